package sip

import (
	"context"
	"log/slog"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/errorutil"
)

func (c *Client) dispatch(ctx context.Context, msg *InboundMessage) {
	c.log.LogAttrs(ctx, slog.LevelDebug, "message received", slog.Any("message", msg))

	if msg.IsResponse {
		c.handleResponse(ctx, msg)
		return
	}
	c.handleRequest(ctx, msg)
}

func (c *Client) handleResponse(ctx context.Context, res *InboundMessage) {
	seq, method, err := res.CSeq()
	if err != nil {
		c.log.LogAttrs(ctx, slog.LevelDebug, "drop response", slog.Any("message", res), slog.Any("error", err))
		return
	}
	callID, _ := res.CallID()

	switch method {
	case RequestMethodRegister:
		if !c.regTx.Matches(callID, seq) {
			c.dropStale(ctx, res)
			return
		}
		c.handleRegisterResponse(ctx, res)
	case RequestMethodMessage, RequestMethodInvite:
		if method != c.id.Method || !c.reqTx.Matches(callID, seq) {
			c.dropStale(ctx, res)
			return
		}
		c.handleRequestResponse(ctx, res)
	default:
		c.dropStale(ctx, res)
	}
}

func (c *Client) dropStale(ctx context.Context, res *InboundMessage) {
	c.log.LogAttrs(ctx, slog.LevelDebug, "drop response not matching any pending request", slog.Any("message", res))
}

func (c *Client) handleRegisterResponse(ctx context.Context, res *InboundMessage) {
	evt := eventFromStatus(res.StatusCode)
	c.reg.fire(ctx, evt)

	switch evt {
	case evtRecv1xx:
		c.log.LogAttrs(ctx, slog.LevelDebug, "provisional REGISTER response", slog.Any("message", res))
	case evtRecvChallenge:
		tc, auth, err := c.answerChallenge(c.regTx, res, RequestMethodRegister)
		if err != nil {
			c.log.LogAttrs(ctx, slog.LevelError, "failed to answer REGISTER challenge", slog.Any("error", err))
			c.reg.fire(ctx, evtFail)
			return
		}
		c.regTx = tc
		if err := c.sendRegister(ctx, auth); err != nil {
			c.log.LogAttrs(ctx, slog.LevelError, "failed to send REGISTER", slog.Any("error", err))
		}
	case evtRecv2xx:
		c.log.LogAttrs(ctx, slog.LevelInfo, "registered", slog.Any("transaction", c.regTx))
	default:
		err := responseError(RequestMethodRegister, res)
		c.log.LogAttrs(ctx, slog.LevelWarn, "registration rejected",
			slog.Any("error", err),
			slog.Any("state", c.reg.State()),
		)
		// a request already in flight still gets its own final response
		if c.requestFSM().State() == RequestStateIdle {
			c.finish(ctx, errtrace.Wrap(err))
		}
	}
}

func (c *Client) handleRequestResponse(ctx context.Context, res *InboundMessage) {
	method := c.id.Method
	fsm := c.requestFSM()
	evt := eventFromStatus(res.StatusCode)
	fsm.fire(ctx, evt)

	switch evt {
	case evtRecv1xx:
		c.log.LogAttrs(ctx, slog.LevelInfo, "provisional response", slog.Any("message", res))
	case evtRecvChallenge:
		tc, auth, err := c.answerChallenge(c.reqTx, res, method)
		if err != nil {
			fsm.fire(ctx, evtFail)
			c.finish(ctx, errtrace.Wrap(err))
			return
		}
		c.reqTx = tc
		if err := c.sendOutRequest(ctx, auth); err != nil {
			c.finish(ctx, errtrace.Wrap(err))
		}
	case evtRecv2xx:
		if method == RequestMethodInvite {
			if err := c.sendAck(ctx, res); err != nil {
				fsm.fire(ctx, evtFail)
				c.finish(ctx, errtrace.Wrap(err))
				return
			}
			fsm.fire(ctx, evtAck)
		}
		c.finish(ctx, nil)
	default:
		c.finish(ctx, errtrace.Wrap(responseError(method, res)))
	}
}

func responseError(method RequestMethod, res *InboundMessage) *RequestError {
	return &RequestError{Method: method, Code: res.StatusCode, Reason: res.Reason}
}

// answerChallenge returns the family context of the authenticated retry
// and the credentials header answering the challenge.
func (c *Client) answerChallenge(
	tc TransactionContext,
	res *InboundMessage,
	method RequestMethod,
) (TransactionContext, HeaderField, error) {
	if tc.Challenges >= c.cfg.maxChallenges() {
		return tc, HeaderField{}, errtrace.Wrap(errorutil.NewWrapperError(ErrTooManyChallenges,
			"%s challenged %d times", method, tc.Challenges+1))
	}

	ch, err := ParseChallenge(res)
	if err != nil {
		return tc, HeaderField{}, errtrace.Wrap(err)
	}

	uri := RequestURI(method, c.id.ToUser, c.cfg.domain())
	return tc.Challenged(), ch.Authorize(c.id.FromUser, c.id.Password, method, uri), nil
}

func (c *Client) handleRequest(ctx context.Context, req *InboundMessage) {
	if req.Method == RequestMethodAck {
		c.log.LogAttrs(ctx, slog.LevelDebug, "ACK received", slog.Any("message", req))
		return
	}

	data, err := BuildOKResponse(req, c.cfg.serverName())
	if err != nil {
		c.log.LogAttrs(ctx, slog.LevelDebug, "drop request", slog.Any("message", req), slog.Any("error", err))
		return
	}
	if err := c.send(ctx, data, req.RemoteAddr); err != nil {
		c.log.LogAttrs(ctx, slog.LevelWarn, "failed to send response",
			slog.Any("message", req),
			slog.Any("error", err),
		)
		return
	}
	c.log.LogAttrs(ctx, slog.LevelInfo, "request answered with 200 OK", slog.Any("message", req))
}

func (c *Client) sendRegister(ctx context.Context, auth HeaderField) error {
	c.reg.fire(ctx, evtSend)

	spec := c.requestSpec(RequestMethodRegister, c.regTx)
	spec.ContactURI = c.contactURI()
	spec.Expires = int(c.cfg.registerExpires().Seconds())
	spec.Auth = auth

	data, err := BuildRequest(spec)
	if err == nil {
		err = c.send(ctx, data, c.server)
	}
	if err != nil {
		c.reg.fire(ctx, evtFail)
		return errtrace.Wrap(err)
	}
	c.log.LogAttrs(ctx, slog.LevelDebug, "REGISTER sent", slog.Any("transaction", c.regTx))
	return nil
}

func (c *Client) refreshRegistration(ctx context.Context) {
	c.regTx = c.regTx.Next()
	if err := c.sendRegister(ctx, HeaderField{}); err != nil {
		c.log.LogAttrs(ctx, slog.LevelError, "failed to refresh registration", slog.Any("error", err))
	}
}

func (c *Client) requestFSM() *requestFSM {
	if c.id.Method == RequestMethodInvite {
		return c.invFSM
	}
	return c.msgFSM
}

// sendRequest starts the send mode request family.
func (c *Client) sendRequest(ctx context.Context) {
	if !c.Registered() {
		c.log.LogAttrs(ctx, slog.LevelWarn, "registration is not confirmed, sending anyway",
			slog.Any("state", c.reg.State()),
		)
	}

	c.reqTx = NewTransactionContext()
	if err := c.sendOutRequest(ctx, HeaderField{}); err != nil {
		c.finish(ctx, errtrace.Wrap(err))
	}
}

func (c *Client) sendOutRequest(ctx context.Context, auth HeaderField) error {
	fsm := c.requestFSM()
	fsm.fire(ctx, evtSend)

	spec := c.requestSpec(c.id.Method, c.reqTx)
	spec.Body = c.id.Body
	spec.Auth = auth
	if c.id.Method == RequestMethodInvite {
		spec.ContactURI = c.contactURI()
	}

	data, err := BuildRequest(spec)
	if err == nil {
		err = c.send(ctx, data, c.server)
	}
	if err != nil {
		fsm.fire(ctx, evtFail)
		return errtrace.Wrap(err)
	}
	c.log.LogAttrs(ctx, slog.LevelInfo, "request sent",
		slog.String("method", string(c.id.Method)),
		slog.Any("transaction", c.reqTx),
	)
	return nil
}

// sendAck acknowledges the INVITE 2xx within the INVITE family:
// same Call-ID, From tag and CSeq number, a new branch and the To tag of the response.
func (c *Client) sendAck(ctx context.Context, res *InboundMessage) error {
	tc := c.reqTx
	tc.Branch = GenerateBranch()

	spec := c.requestSpec(RequestMethodAck, tc)
	if to, ok := res.Header("To"); ok {
		spec.ToTag = headerParam(to, "tag")
	}

	data, err := BuildRequest(spec)
	if err != nil {
		return errtrace.Wrap(err)
	}
	if err := c.send(ctx, data, c.server); err != nil {
		return errtrace.Wrap(err)
	}
	c.log.LogAttrs(ctx, slog.LevelInfo, "ACK sent", slog.Any("transaction", tc))
	return nil
}
