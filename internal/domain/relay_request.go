package domain

// NoParent is the parent identifier sent for top-level actions.
const NoParent = "0"

// RelayRequest is a signed, delegated write submitted to the relay.
// It is built per call and never persisted.
type RelayRequest struct {
	SubjectID        string `json:"subjectId" validate:"required"`
	ContentHash      string `json:"contentHash" validate:"required"`
	ParentID         string `json:"parentId,omitempty"`
	SessionPublicKey string `json:"sessionPublicKey" validate:"required"`
	UserAddress      string `json:"userAddress" validate:"required"`
	Signature        string `json:"signature" validate:"required"`
	Nonce            uint64 `json:"nonce"`
}

// Parent returns the parent identifier, substituting NoParent when omitted.
func (r *RelayRequest) Parent() string {
	if r.ParentID == "" {
		return NoParent
	}
	return r.ParentID
}

// RelayResult is the outcome of a confirmed relay.
type RelayResult struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash"`
}
