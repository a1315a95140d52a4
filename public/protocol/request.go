package protocol

import (
	"time"

	"github.com/corvid-systems/agency/internal/wireproto"
	"github.com/corvid-systems/agency/public/medium"
)

// Request/response states, spec §3: "requested -> closed|expired".
const (
	RequestRequested State = "requested"
	RequestClosed    State = "closed"
	RequestExpired   State = "expired"
)

// RequestInitiatorFactory starts the initiator side of a request/response
// exchange: send one Request, wait for one Response or expire.
type RequestInitiatorFactory struct {
	ProtoType string
	Timeout   time.Duration
}

func (f RequestInitiatorFactory) ProtocolType() string { return f.ProtoType }

func (f RequestInitiatorFactory) NewInitiator(host medium.HostMedium, recipients []wireproto.Recipient, args ...any) (medium.Listener, any, error) {
	var payload []byte
	if len(args) > 0 {
		if b, ok := args[0].([]byte); ok {
			payload = b
		}
	}
	protocolID := wireproto.NewSessionID()
	ri := &RequestInitiator{
		machine: newMachine(host, f.ProtoType, protocolID, wireproto.NewSessionID(), RequestRequested),
	}
	effects := host.Effects()
	req := wireproto.Message{
		ProtocolType:   f.ProtoType,
		ProtocolID:     protocolID,
		MessageClass:   wireproto.ClassRequest,
		ExpirationTime: expirationDeadline(recordedNow(effects, host), f.Timeout),
		Payload:        payload,
	}
	if _, err := recordedSend(effects, host, recipients, req, false); err != nil {
		return nil, nil, err
	}
	host.JournalProtocolCreated(req, effects.Effects())
	ri.scheduleExpiration(f.Timeout, func() { ri.terminate(RequestExpired) })
	return ri, ri, nil
}

// RequestInitiator is the agent-visible and listener object for the
// initiator side of a request/response exchange.
type RequestInitiator struct {
	machine
	response *wireproto.Message
}

// Response returns the received response, if any.
func (r *RequestInitiator) Response() *wireproto.Message { return r.response }

// OnMessage implements medium.Listener.
func (r *RequestInitiator) OnMessage(msg wireproto.Message) bool {
	if msg.MessageClass != wireproto.ClassResponse {
		return false
	}
	if !r.transition(RequestClosed) {
		return false
	}
	r.response = &msg
	r.terminate(RequestClosed)
	return true
}

// AgentSide implements medium.Listener.
func (r *RequestInitiator) AgentSide() any { return r }

// Snapshot implements medium.Listener.
func (r *RequestInitiator) Snapshot() any { return r.baseSnapshot() }

// RequestInterestedFactory constructs the interested side of a
// request/response exchange: it matches inbound Requests and lets the
// embedding agent reply once.
type RequestInterestedFactory struct {
	ProtoType string
	ProtoID   string
	Interest  medium.InterestType
	Timeout   time.Duration
}

func (f RequestInterestedFactory) ProtocolType() string             { return f.ProtoType }
func (f RequestInterestedFactory) ProtocolID() string               { return f.ProtoID }
func (f RequestInterestedFactory) InterestType() medium.InterestType { return f.Interest }

func (f RequestInterestedFactory) Matches(msg wireproto.Message) bool {
	return msg.MessageClass == wireproto.ClassRequest && msg.ProtocolType == f.ProtoType
}

func (f RequestInterestedFactory) NewInterested(host medium.HostMedium, msg wireproto.Message) (medium.Listener, error) {
	ri := &RequestInterested{
		machine:  newMachine(host, msg.ProtocolType, msg.ProtocolID, wireproto.NewSessionID(), RequestRequested),
		requester: msg.ReplyTo,
		request:  msg,
	}
	host.JournalProtocolCreated(msg, nil)
	ri.scheduleExpiration(f.Timeout, func() { ri.terminate(RequestExpired) })
	return ri, nil
}

// RequestInterested is the agent-visible and listener object for the
// interested side of a request/response exchange.
type RequestInterested struct {
	machine
	requester *wireproto.Recipient
	request   wireproto.Message
}

// Request returns the inbound request this listener was created for.
func (r *RequestInterested) Request() wireproto.Message { return r.request }

// Respond sends the response and terminates.
func (r *RequestInterested) Respond(payload []byte) error {
	if !r.transition(RequestClosed) {
		return nil
	}
	resp := wireproto.Message{
		ProtocolType: r.protocolType,
		ProtocolID:   r.protocolID,
		MessageClass: wireproto.ClassResponse,
		Payload:      payload,
	}
	_, err := r.host.SendMsg(replyRecipientPtr(r.requester), resp, false)
	r.terminate(RequestClosed)
	return err
}

// OnMessage implements medium.Listener. Request/interested never
// receives a second message of note; anything further is dropped.
func (r *RequestInterested) OnMessage(wireproto.Message) bool { return false }

// AgentSide implements medium.Listener.
func (r *RequestInterested) AgentSide() any { return r }

// Snapshot implements medium.Listener.
func (r *RequestInterested) Snapshot() any { return r.baseSnapshot() }
