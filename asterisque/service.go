package asterisque

import (
	"context"

	"github.com/asterisque/asterisque/asterisque/common"
)

// CallContext is threaded explicitly through every Service.Invoke call: a
// service body reaches its pipe and session through this value instead of
// ambient globals or thread-local state.
type CallContext struct {
	Context context.Context
	Session *Session
	Pipe    *Pipe
}

// StreamPipe returns ctx.Pipe's streaming view, if the pipe was opened with
// stream_enabled; ok is false otherwise.
func (ctx CallContext) StreamPipe() (sp *StreamPipe, ok bool) {
	v, found := ctx.Session.pipes.Get(ctx.Pipe.ID())
	if !found {
		return nil, false
	}
	sp, ok = v.(*StreamPipe)
	return sp, ok
}

// Service is the host-supplied callback the core funnels every Open into.
// A failure returned from Invoke becomes Close(abort) for that pipe alone;
// it never affects the session or other pipes.
type Service interface {
	// Invoke handles one call. A nil error with nil result is a valid
	// success (an empty result payload). Returning a *common.Abort
	// produces that exact abort code/message on the wire; any other error
	// is reported as AbortFunctionAborted with the error's message.
	Invoke(ctx CallContext, functionID uint16, params []byte) ([]byte, error)
}

// ServiceFunc adapts a plain function to Service, the way http.HandlerFunc
// adapts a function to http.Handler.
type ServiceFunc func(ctx CallContext, functionID uint16, params []byte) ([]byte, error)

func (f ServiceFunc) Invoke(ctx CallContext, functionID uint16, params []byte) ([]byte, error) {
	return f(ctx, functionID, params)
}

// BindFunc adapts a single Go function, keyed to one function id, into a
// Service that dispatches only that id and rejects every other with
// AbortFunctionUndefined. Generated stubs can target it directly instead
// of going through reflection.
func BindFunc(functionID uint16, fn func(ctx CallContext, params []byte) ([]byte, error)) Service {
	return ServiceFunc(func(ctx CallContext, fid uint16, params []byte) ([]byte, error) {
		if fid != functionID {
			return nil, common.AbortFunctionUndefinedErr(fid)
		}
		return fn(ctx, params)
	})
}
