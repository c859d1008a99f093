package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/vitwit/paygate/blobstore"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
)

// GET /key/{contentId}
func (s *Server) getKey(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.content(w, r)
	if !ok {
		return
	}

	if h := r.Header.Get(types.HeaderPayment); h != "" {
		payload, err := utils.DecodePaymentPayload(h)
		if err != nil {
			s.reject(w, r, rec, err)
			return
		}
		s.pay(w, r, rec, types.NewFacilitatorProof(*payload))
		return
	}

	consumer, err := identity(r, rec.ID, s.cfg.RequireSignedIdentity, s.cfg.IdentityWindow, s.now())
	if err != nil {
		// an identity that does not check out is treated as anonymous
		s.log.Debug("ignoring consumer identity", map[string]any{"content": rec.ID, "error": err, "request_id": RequestID(r.Context())})
	}
	if consumer != "" {
		has, err := s.ledger.HasAccess(r.Context(), rec.ID, consumer)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if has {
			s.release(w, r, rec, consumer, nil, nil, "existing")
			return
		}
	}
	s.paymentRequired(w, rec, "")
}

// POST /key/{contentId}
func (s *Server) postKey(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.content(w, r)
	if !ok {
		return
	}

	var body types.PayRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if isNull(body.PaymentPayload) {
		if h := r.Header.Get(types.HeaderPayment); h != "" {
			body.PaymentPayload, _ = json.Marshal(h)
		}
	}
	if isNull(body.PaymentPayload) {
		s.writeError(w, r, types.NewError(types.KindValidation, types.ErrInvalidPayload, "paymentPayload is required"))
		return
	}
	if body.ConsumerAddress != "" {
		if err := utils.ValidateAddress("consumerAddress", body.ConsumerAddress); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	payload, err := utils.DecodePaymentPayloadJSON(body.PaymentPayload)
	if err != nil {
		s.reject(w, r, rec, err)
		return
	}
	s.pay(w, r, rec, types.NewFacilitatorProof(*payload))
}

// POST /key/{contentId}/grant
func (s *Server) postGrant(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.content(w, r)
	if !ok {
		return
	}

	var body types.GrantRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := utils.ValidateAddress("consumerAddress", body.ConsumerAddress); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := utils.ValidateTransactionHash(body.TxHash); err != nil {
		s.writeError(w, r, err)
		return
	}

	if s.cfg.RequireSignedIdentity {
		consumer, err := identity(r, rec.ID, true, s.cfg.IdentityWindow, s.now())
		if err == nil && consumer == "" {
			err = invalidIdentity("a signed consumer identity is required")
		}
		if err == nil && !utils.SameAddress(consumer, body.ConsumerAddress) {
			err = invalidIdentity("signed identity %s does not match consumerAddress %s", consumer, body.ConsumerAddress)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	s.pay(w, r, rec, types.NewDirectProof(types.DirectTransferProof{
		TxHash:      body.TxHash,
		FromAddress: body.ConsumerAddress,
	}))
}

// content resolves the contentId path parameter to an active record.
func (s *Server) content(w http.ResponseWriter, r *http.Request) (*types.ContentRecord, bool) {
	id := chi.URLParam(r, "contentId")
	if err := utils.ValidateContentID(id); err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	rec, err := s.ledger.GetContent(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	if !rec.Active {
		s.writeError(w, r, types.NewError(types.KindNotFound, types.ErrContentNotFound, "content %s is not available", id))
		return nil, false
	}
	return rec, true
}

// pay verifies proof, writes the grant and releases the key, in that order.
func (s *Server) pay(w http.ResponseWriter, r *http.Request, rec *types.ContentRecord, proof types.PaymentProof) {
	reqs := s.requirements.For(rec, proof.Scheme())
	if reqs == nil {
		s.paymentRequired(w, rec, types.ReasonInvalidPayload+": "+string(proof.Method)+" payments are not accepted")
		return
	}

	// a settlement may be in flight from here on; a client disconnect must
	// not cut it or the grant short
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.PaymentTimeout)
	defer cancel()

	res, err := s.verifier.Verify(ctx, proof, reqs)
	if err != nil {
		if types.StatusOf(err) == http.StatusPaymentRequired {
			s.reject(w, r, rec, err)
			return
		}
		s.writeError(w, r, err)
		return
	}
	if !res.Valid {
		s.paymentRequired(w, rec, res.Reason+": "+res.Error)
		return
	}

	consumer := res.Consumer
	if consumer == "" {
		consumer = proof.ClaimedConsumer()
	}
	paidTx := res.SettledTxHash
	if paidTx == "" && proof.Direct != nil {
		paidTx = proof.Direct.TxHash
	}

	var expiry int64
	if s.cfg.GrantTTL > 0 {
		expiry = s.now().Add(s.cfg.GrantTTL).Unix()
	}

	grant, err := s.grants.Grant(ctx, rec.ID, consumer, proof.ID(), expiry)
	if err != nil {
		switch types.StatusOf(err) {
		case http.StatusPaymentRequired:
			s.reject(w, r, rec, err)
		case http.StatusBadRequest, http.StatusNotFound:
			s.writeError(w, r, err)
		default:
			s.log.Error("paid but not granted", map[string]any{
				"content": rec.ID, "consumer": consumer, "proof": proof.ID(), "tx": paidTx, "error": err,
				"request_id": RequestID(ctx),
			})
			writeJSON(w, http.StatusInternalServerError, types.ErrorResponse{
				Error:   err.Error(),
				Code:    types.ErrGrantFailed,
				TxHash:  paidTx,
				ProofID: proof.ID(),
			})
		}
		return
	}

	s.release(w, r, rec, consumer, res, grant, string(proof.Method))
}

// release returns the content key. res and grant are nil on the existing
// access path.
func (s *Server) release(w http.ResponseWriter, r *http.Request, rec *types.ContentRecord, consumer string,
	res *types.VerificationResult, grant *types.GrantResult, method string) {
	meta, err := blobstore.GetMetadata(r.Context(), s.blobs, rec.MetadataBlobID)
	if err != nil {
		s.metrics.IncCounter(metrics.KeyReleases, map[string]string{"method": method, "outcome": metrics.OutcomeError})
		body := types.ErrorResponse{Error: "content metadata unavailable", Code: types.ErrInternal}
		if res != nil {
			body.TxHash = res.SettledTxHash
		}
		s.log.Error("metadata fetch failed", map[string]any{"content": rec.ID, "blob": rec.MetadataBlobID, "error": err})
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}

	resp := types.KeyResponse{
		Success:       true,
		Key:           meta.EncryptedKeyBlob,
		ContentBlobID: rec.ContentBlobID,
	}
	if resp.ContentBlobID == "" {
		resp.ContentBlobID = meta.ContentBlobID
	}
	if grant != nil {
		resp.GrantTxHash = grant.GrantTxHash
	}
	if res != nil && res.SettledTxHash != "" {
		resp.SettledTxHash = res.SettledTxHash
		h, err := utils.EncodeHeader(types.SettlementResult{
			Success: true,
			TxHash:  res.SettledTxHash,
			Network: s.requirements.Network(),
			Payer:   consumer,
		})
		if err == nil {
			w.Header().Set(types.HeaderPaymentResponse, h)
		}
	}

	s.metrics.IncCounter(metrics.KeyReleases, map[string]string{"method": method, "outcome": metrics.OutcomeOK})
	s.log.Info("key released", map[string]any{"content": rec.ID, "consumer": consumer, "method": method, "request_id": RequestID(r.Context())})
	writeJSON(w, http.StatusOK, resp)
}

// paymentRequired answers 402 with fresh requirements in the body and the
// X-PAYMENT-REQUIRED header. reason is set when a proof was rejected.
func (s *Server) paymentRequired(w http.ResponseWriter, rec *types.ContentRecord, reason string) {
	resp := s.requirements.Build(rec)
	resp.Error = reason
	if h, err := utils.EncodeHeader(resp); err == nil {
		w.Header().Set(types.HeaderPaymentRequired, h)
	}
	writeJSON(w, http.StatusPaymentRequired, resp)
}

// reject turns a payment error into a 402, carrying its reason when known.
func (s *Server) reject(w http.ResponseWriter, r *http.Request, rec *types.ContentRecord, err error) {
	reason := types.ReasonInvalidPayload
	msg := err.Error()
	if e, ok := types.AsError(err); ok {
		msg = e.Message
		if data, ok := e.Data.(map[string]string); ok && data["reason"] != "" {
			reason = data["reason"]
		} else if e.Code == types.ErrSettlementFailed {
			reason = types.ReasonSettlementFailed
		}
	}
	s.log.Info("payment rejected", map[string]any{"content": rec.ID, "reason": reason, "request_id": RequestID(r.Context())})
	s.paymentRequired(w, rec, reason+": "+msg)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := types.StatusOf(err)
	body := types.ErrorResponse{Error: err.Error(), Code: types.ErrInternal}
	if e, ok := types.AsError(err); ok {
		body.Code = e.Code
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", map[string]any{"path": r.URL.Path, "error": err, "request_id": RequestID(r.Context())})
		if types.KindOf(err) == types.KindInternal {
			body.Error = "internal error"
		}
	}
	writeJSON(w, status, body)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return types.NewError(types.KindValidation, types.ErrInvalidPayload, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return types.WrapError(err, types.KindValidation, types.ErrInvalidPayload, "malformed request body")
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
