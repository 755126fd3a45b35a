package strategy

import (
	"errors"

	"github.com/coffersTech/callspy/internal/engine"
	"github.com/coffersTech/callspy/internal/host"
	"github.com/coffersTech/callspy/internal/model"
	"github.com/coffersTech/callspy/internal/value"
)

// watchEndpoints subscribes to inbound deliveries on every known endpoint
// and announces endpoints created from now on. It runs once, after a
// strategy installed; a session with no interception stays inert.
func watchEndpoints(env *Env) {
	s := env.Session
	is, canInbound := env.Host.(host.InboundSubscriber)

	listen := func(n model.Node) {
		if !canInbound || !s.Inbound.Claim(n) {
			return
		}
		err := is.OnInbound(n, func(method model.Method, args []value.Value) {
			s.RecordInbound(n, method, args)
		})
		if err != nil {
			s.Inbound.Release(n)
			if errors.Is(err, host.ErrUnsupported) {
				canInbound = false
			}
			env.Logger.Debug("inbound subscription failed", "path", model.FullName(n), "err", err)
		}
	}

	if canInbound {
		nodes, err := enumerate(env.Host)
		if err != nil {
			env.Logger.Debug("cannot enumerate endpoints for inbound", "err", err)
		}
		for _, n := range nodes {
			if _, ok := engine.Classify(n); ok && !s.Actors.IsForeign(n) {
				listen(n)
			}
		}
	}

	cn, ok := env.Host.(host.CreationNotifier)
	if !ok {
		return
	}
	err := cn.OnNodeAdded(func(n model.Node) {
		class, ok := engine.Classify(n)
		if !ok || s.Actors.IsForeign(n) {
			return
		}
		s.Discovered(class, n)
		listen(n)
	})
	if err != nil {
		env.Logger.Debug("endpoint discovery unavailable", "err", err)
	}
}
