package main

import (
	"context"

	"github.com/luvjson/blockspace/syncengine"
	"github.com/luvjson/blockspace/transport"

	"go.uber.org/zap"
)

// pumpSession drives a syncengine.Session over a transport.Session until
// ctx is cancelled or the transport errors: it sends the session's initial
// handshake frames, then alternates reading inbound frames and writing back
// whatever replies handling them produces.
func pumpSession(ctx context.Context, sess *syncengine.Session, t transport.Session, log *zap.Logger) {
	for _, frame := range sess.Init() {
		if err := t.Outbound(ctx, frame); err != nil {
			log.Warn("sync transport send failed", zap.Error(err))
			return
		}
	}

	for {
		frame, err := t.Inbound(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("sync transport receive failed", zap.Error(err))
			}
			return
		}
		replies, err := sess.Inbound(frame)
		if err != nil {
			log.Warn("sync session closed", zap.Error(err))
			return
		}
		for _, reply := range replies {
			if err := t.Outbound(ctx, reply); err != nil {
				log.Warn("sync transport send failed", zap.Error(err))
				return
			}
		}
	}
}
