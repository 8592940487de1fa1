package models

// CopySiteActivity is the per-site progress entry of a copy request payload.
type CopySiteActivity struct {
	Site    string `json:"site" yaml:"site"`
	Status  string `json:"status" yaml:"status"`
	Updated int64  `json:"updated" yaml:"updated"`
}

// CopyRequestView is the client-facing shape of a copy request.
type CopyRequestView struct {
	RequestID    uint               `json:"request_id" yaml:"request_id"`
	Item         []string           `json:"item" yaml:"item"`
	Site         string             `json:"site" yaml:"site"`
	Group        string             `json:"group" yaml:"group"`
	N            int                `json:"n" yaml:"n"`
	Status       RequestStatus      `json:"status" yaml:"status"`
	FirstRequest int64              `json:"first_request" yaml:"first_request"`
	LastRequest  int64              `json:"last_request" yaml:"last_request"`
	RequestCount int                `json:"request_count" yaml:"request_count"`
	Reason       string             `json:"reason,omitempty" yaml:"reason,omitempty"`
	Copy         []CopySiteActivity `json:"copy,omitempty" yaml:"copy,omitempty"`
	User         string             `json:"user,omitempty" yaml:"user,omitempty"`
}

// View renders the request for a response payload. The owner name is
// included only when the request was loaded with its user.
func (r *CopyRequest) View() CopyRequestView {
	v := CopyRequestView{
		RequestID:    r.ID,
		Item:         make([]string, 0, len(r.Items)),
		Site:         r.Site,
		Group:        r.Group,
		N:            r.NumCopies,
		Status:       r.Status,
		FirstRequest: r.FirstRequestTime.Unix(),
		LastRequest:  r.LastRequestTime.Unix(),
		RequestCount: r.RequestCount,
	}
	for _, it := range r.Items {
		v.Item = append(v.Item, it.Item)
	}
	if r.Status == StatusRejected {
		v.Reason = r.RejectionReason
	}
	for _, a := range r.Activity {
		v.Copy = append(v.Copy, CopySiteActivity{Site: a.Site, Status: a.Status, Updated: a.Updated.Unix()})
	}
	if r.User != nil {
		v.User = r.User.Name
	}
	return v
}

// DeletionActivityView is a progress entry of a deletion request payload.
type DeletionActivityView struct {
	Status  string `json:"status" yaml:"status"`
	Updated int64  `json:"updated" yaml:"updated"`
}

// DeletionRequestView is the client-facing shape of a deletion request.
type DeletionRequestView struct {
	RequestID uint                   `json:"request_id" yaml:"request_id"`
	Item      []string               `json:"item" yaml:"item"`
	Site      string                 `json:"site" yaml:"site"`
	Status    RequestStatus          `json:"status" yaml:"status"`
	Requested int64                  `json:"requested" yaml:"requested"`
	Reason    string                 `json:"reason,omitempty" yaml:"reason,omitempty"`
	Deletion  []DeletionActivityView `json:"deletion,omitempty" yaml:"deletion,omitempty"`
	User      string                 `json:"user,omitempty" yaml:"user,omitempty"`
}

// View renders the request for a response payload.
func (r *DeletionRequest) View() DeletionRequestView {
	v := DeletionRequestView{
		RequestID: r.ID,
		Item:      make([]string, 0, len(r.Items)),
		Site:      r.Site,
		Status:    r.Status,
		Requested: r.Timestamp.Unix(),
	}
	for _, it := range r.Items {
		v.Item = append(v.Item, it.Item)
	}
	if r.Status == StatusRejected {
		v.Reason = r.RejectionReason
	}
	for _, a := range r.Activity {
		v.Deletion = append(v.Deletion, DeletionActivityView{Status: a.Status, Updated: a.Updated.Unix()})
	}
	if r.User != nil {
		v.User = r.User.Name
	}
	return v
}

// CopyViews renders a slice of copy requests.
func CopyViews(reqs []CopyRequest) []CopyRequestView {
	out := make([]CopyRequestView, 0, len(reqs))
	for i := range reqs {
		out = append(out, reqs[i].View())
	}
	return out
}

// DeletionViews renders a slice of deletion requests.
func DeletionViews(reqs []DeletionRequest) []DeletionRequestView {
	out := make([]DeletionRequestView, 0, len(reqs))
	for i := range reqs {
		out = append(out, reqs[i].View())
	}
	return out
}
