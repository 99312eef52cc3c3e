package receivertest

import (
	"context"
	"sync"

	amqp "github.com/Azure/go-amqp"
	"github.com/Azure/azure-amqp-common-go/v3/rpc"

	"github.com/Azure/go-sb-receiver/internal/mgmtlink"
)

// MgmtOpener is a fake mgmtlink.Opener that hands out a single MgmtLink,
// opened lazily on first use, recording whether Open was ever called.
type MgmtOpener struct {
	mu      sync.Mutex
	link    *MgmtLink
	OpenErr error
	opened  bool
}

func (o *MgmtOpener) Open(ctx context.Context) (mgmtlink.RPCLink, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	o.opened = true
	if o.link == nil {
		o.link = &MgmtLink{Responses: make(map[string]*rpc.Response)}
	}
	return o.link, nil
}

// Opened reports whether Open was ever called.
func (o *MgmtOpener) Opened() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}

// Link returns the fake RPC link, creating it if Open hasn't run yet.
func (o *MgmtOpener) Link() *MgmtLink {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.link == nil {
		o.link = &MgmtLink{Responses: make(map[string]*rpc.Response)}
	}
	return o.link
}

// MgmtLink is a fake management request/response link. Tests register a
// canned *rpc.Response per operation name (read from the request
// message's "operation" application property) via Responses, or set
// RPCErr to fail every call.
type MgmtLink struct {
	mu sync.Mutex

	Responses map[string]*rpc.Response
	RPCErr    error
	Requests  []*amqp.Message
	closed    bool
}

func (l *MgmtLink) RPC(ctx context.Context, msg *amqp.Message) (*rpc.Response, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Requests = append(l.Requests, msg)
	if l.RPCErr != nil {
		return nil, l.RPCErr
	}
	op, _ := msg.ApplicationProperties["operation"].(string)
	if resp, ok := l.Responses[op]; ok {
		return resp, nil
	}
	return &rpc.Response{Code: 200, Message: &amqp.Message{}}, nil
}

func (l *MgmtLink) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *MgmtLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
