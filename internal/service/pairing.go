package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"git.sr.ht/~jakintosh/whatshare/internal/credentials"
	"git.sr.ht/~jakintosh/whatshare/internal/request"
)

// Message is sent by a mobile device replying to a pairing request. The
// requestor id is the extension's push channel in plain text; the other two
// fields are encrypted with the extension's key and relayed untouched.
type Message struct {
	RequestorID string `json:"requestorId"`
	PairedID    string `json:"pairedId"`
	ChosenID    string `json:"chosenId"`
}

func (m Message) Valid() bool {
	return m.RequestorID != "" && m.PairedID != "" && m.ChosenID != ""
}

// relayPayload uses the field names the extension reads.
type relayPayload struct {
	Paired   string `json:"paired"`
	ChosenID string `json:"chosenID"`
}

// HandleReply relays msg to the extension identified by msg.RequestorID.
// It returns nil once the push service accepted the message,
// [ErrInvalidMessage] for incomplete messages and [ErrUnauthorized] when the
// extension has no usable credential or delivery was refused.
func (s *Service) HandleReply(
	ctx context.Context,
	msg Message,
) error {
	if !msg.Valid() {
		return ErrInvalidMessage
	}

	c, err := s.usableCredential(ctx, msg.RequestorID)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(relayPayload{
		Paired:   msg.PairedID,
		ChosenID: msg.ChosenID,
	})
	if err != nil {
		return fmt.Errorf("%w: couldn't encode payload: %v", ErrInternal, err)
	}

	reply, err := s.poster.Post(ctx, request.Request{
		URL: s.relay.URL,
		Params: request.Params{}.
			Add("channelId", c.IdentityKey).
			Add("subchannelId", "0").
			Add("payload", string(payload)),
		Encoding: request.EncodingJSON,
		Headers:  request.Params{}.Add("Authorization", "Bearer "+c.AccessToken),
	})
	if err != nil {
		return fmt.Errorf("%w: relay failed: %w", ErrUnauthorized, err)
	}
	if reply == "" {
		return fmt.Errorf("%w: relay refused delivery", ErrUnauthorized)
	}

	s.logger.Info("pairing reply relayed", "requestor", msg.RequestorID)
	return nil
}

// CheckUsable reports whether identityKey has a credential that can be used
// right now, refreshing it if it expired.
func (s *Service) CheckUsable(
	ctx context.Context,
	identityKey string,
) bool {
	_, err := s.usableCredential(ctx, identityKey)
	return err == nil
}

func (s *Service) usableCredential(
	ctx context.Context,
	identityKey string,
) (
	*credentials.Credential,
	error,
) {
	c, err := s.credentials.Resolve(ctx, identityKey)
	if errors.Is(err, credentials.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't resolve credential: %v", ErrInternal, err)
	}

	if err := s.credentials.EnsureUsable(ctx, c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return c, nil
}
