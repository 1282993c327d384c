// Package syncclient is the device-side companion to the HTTP API: it keeps
// a local record store, mirrors mutations to the remote server on a
// best-effort basis, and resolves the acting user's address.
package syncclient

import (
	"encoding/json"
	"fmt"

	"github.com/helpthread/helpthread/internal/helpthread"
)

// Kind names a message in the client protocol. The set is closed: decoding
// rejects anything else, and Dispatch handles every kind explicitly.
type Kind string

const (
	KindConnectivityCheck Kind = "CONNECTIVITY_CHECK"
	KindTagEmail          Kind = "TAG_EMAIL"
	KindAddSuggestion     Kind = "ADD_SUGGESTION"
	KindGetUserEmail      Kind = "GET_USER_EMAIL"
	KindGetTaggedEmails   Kind = "GET_TAGGED_EMAILS"
	KindClearStorage      Kind = "CLEAR_STORAGE"
	KindDumpStorage       Kind = "DUMP_STORAGE"
)

// Request is sealed; the concrete types below are the only implementations.
type Request interface {
	Kind() Kind
	isRequest()
}

type ConnectivityCheckRequest struct{}

type TagEmailRequest struct {
	Email        helpthread.EmailSnapshot `json:"emailData"`
	TaggedPeople []string                 `json:"taggedPeople"`
	Note         string                   `json:"note"`
	// Requester is filled from the identity chain when empty.
	Requester string `json:"requester,omitempty"`
}

type AddSuggestionRequest struct {
	EmailID string `json:"emailId"`
	Text    string `json:"text"`
	// Author is filled from the identity chain when empty.
	Author string `json:"author,omitempty"`
}

type GetUserEmailRequest struct{}

type GetTaggedEmailsRequest struct {
	// UserEmail limits the listing; empty means the resolved current user.
	UserEmail string `json:"userEmail,omitempty"`
}

type ClearStorageRequest struct{}

type DumpStorageRequest struct{}

func (ConnectivityCheckRequest) Kind() Kind { return KindConnectivityCheck }
func (TagEmailRequest) Kind() Kind          { return KindTagEmail }
func (AddSuggestionRequest) Kind() Kind     { return KindAddSuggestion }
func (GetUserEmailRequest) Kind() Kind      { return KindGetUserEmail }
func (GetTaggedEmailsRequest) Kind() Kind   { return KindGetTaggedEmails }
func (ClearStorageRequest) Kind() Kind      { return KindClearStorage }
func (DumpStorageRequest) Kind() Kind       { return KindDumpStorage }

func (ConnectivityCheckRequest) isRequest() {}
func (TagEmailRequest) isRequest()          {}
func (AddSuggestionRequest) isRequest()     {}
func (GetUserEmailRequest) isRequest()      {}
func (GetTaggedEmailsRequest) isRequest()   {}
func (ClearStorageRequest) isRequest()      {}
func (DumpStorageRequest) isRequest()       {}

// Envelope is the wire form of a Request: a kind tag plus kind-specific data.
type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func EncodeRequest(req Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: req.Kind(), Data: data})
}

func DecodeRequest(raw []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	decode := func(into Request) (Request, error) {
		if len(env.Data) == 0 {
			return into, nil
		}
		if err := json.Unmarshal(env.Data, into); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", env.Type, err)
		}
		return into, nil
	}
	switch env.Type {
	case KindConnectivityCheck:
		return ConnectivityCheckRequest{}, nil
	case KindTagEmail:
		req, err := decode(&TagEmailRequest{})
		if err != nil {
			return nil, err
		}
		return *req.(*TagEmailRequest), nil
	case KindAddSuggestion:
		req, err := decode(&AddSuggestionRequest{})
		if err != nil {
			return nil, err
		}
		return *req.(*AddSuggestionRequest), nil
	case KindGetUserEmail:
		return GetUserEmailRequest{}, nil
	case KindGetTaggedEmails:
		req, err := decode(&GetTaggedEmailsRequest{})
		if err != nil {
			return nil, err
		}
		return *req.(*GetTaggedEmailsRequest), nil
	case KindClearStorage:
		return ClearStorageRequest{}, nil
	case KindDumpStorage:
		return DumpStorageRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

// Response is the uniform reply shape for every protocol message. RemoteError
// reports a failed best-effort mirror to the server without failing the
// local operation.
type Response struct {
	Success     bool                              `json:"success"`
	Error       string                            `json:"error,omitempty"`
	Online      bool                              `json:"online,omitempty"`
	EmailID     string                            `json:"emailId,omitempty"`
	MessageID   string                            `json:"messageId,omitempty"`
	UserEmail   string                            `json:"userEmail,omitempty"`
	Emails      map[string]helpthread.TaggedEmail `json:"emails,omitempty"`
	Dump        *helpthread.StorageSnapshot       `json:"dump,omitempty"`
	RemoteError string                            `json:"remoteError,omitempty"`
}

func failure(err error) Response {
	return Response{Success: false, Error: err.Error()}
}
