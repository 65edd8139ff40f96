package engine

import (
	"context"

	"github.com/andycostintoma/engine/internal/h1"
	"github.com/andycostintoma/engine/internal/h2"
)

// h1Adapter lets the public Service satisfy internal/h1.Service, translating
// between the protocol-agnostic Request/Response and h1's wire-shaped Head.
type h1Adapter struct{ svc Service }

func (a h1Adapter) Call(ctx context.Context, req h1.Message) (h1.Message, error) {
	if err := a.svc.PollReady(ctx); err != nil {
		return h1.Message{}, err
	}
	resp, err := a.svc.Call(ctx, &Request{
		Method:     req.Head.Method,
		Path:       req.Head.RequestURI,
		ProtoMajor: req.Head.ProtoMajor,
		ProtoMinor: req.Head.ProtoMinor,
		Header:     req.Head.Header,
		Body:       req.Body,
	})
	if err != nil {
		return h1.Message{}, err
	}
	return h1.Message{
		Head: h1.Head{
			Subject:    h1.SubjectResponse,
			StatusCode: resp.StatusCode,
			Reason:     resp.Reason,
			ProtoMajor: req.Head.ProtoMajor,
			ProtoMinor: req.Head.ProtoMinor,
			Header:     resp.Header,
		},
		Body: resp.Body,
	}, nil
}

// h2Adapter is h1Adapter's HTTP/2 counterpart.
type h2Adapter struct{ svc Service }

func (a h2Adapter) Call(ctx context.Context, req h2.Message) (h2.Message, error) {
	if err := a.svc.PollReady(ctx); err != nil {
		return h2.Message{}, err
	}
	resp, err := a.svc.Call(ctx, &Request{
		Method:    req.Head.Method,
		Path:      req.Head.Path,
		Scheme:    req.Head.Scheme,
		Authority: req.Head.Authority,
		Header:    req.Head.Header,
		Body:      req.Body,
	})
	if err != nil {
		return h2.Message{}, err
	}
	return h2.Message{
		Head: h2.Head{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
		},
		Body: resp.Body,
	}, nil
}
