package callsession

import (
	"io"
	"log/slog"

	"github.com/emiago/sipgo/sip"

	"github.com/sipaivoice/bridge/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSession() *Session {
	s := newSession("test-call-id", DefaultConfig(), testLogger(), events.NewBus(), nil)
	return s
}

func newTestRequest(method sip.RequestMethod, source string) *sip.Request {
	recipient := sip.Uri{User: "1000", Host: "example.com"}
	req := sip.NewRequest(method, recipient)
	req.AppendHeader(sip.NewHeader("Call-ID", "test-call-id"))
	req.AppendHeader(sip.NewHeader("From", "<sip:caller@example.com>;tag=fromtag"))
	req.AppendHeader(sip.NewHeader("To", "<sip:1000@example.com>"))
	req.SetSource(source)
	return req
}

// fakeServerTransaction records the last response handed to Respond, so
// tests can assert on status codes without a live network transaction.
type fakeServerTransaction struct {
	responses []*sip.Response
	done      chan struct{}
}

func newFakeServerTransaction() *fakeServerTransaction {
	return &fakeServerTransaction{done: make(chan struct{})}
}

func (f *fakeServerTransaction) Respond(res *sip.Response) error {
	f.responses = append(f.responses, res)
	return nil
}
func (f *fakeServerTransaction) Acks() <-chan *sip.Request             { return nil }
func (f *fakeServerTransaction) OnCancel(fn sip.FnTxCancel) bool       { return true }
func (f *fakeServerTransaction) Terminate()                           {}
func (f *fakeServerTransaction) OnTerminate(fn sip.FnTxTerminate) bool { return true }
func (f *fakeServerTransaction) Done() <-chan struct{}                 { return f.done }
func (f *fakeServerTransaction) Err() error                            { return nil }

func (f *fakeServerTransaction) lastStatus() int {
	if len(f.responses) == 0 {
		return 0
	}
	return f.responses[len(f.responses)-1].StatusCode
}
