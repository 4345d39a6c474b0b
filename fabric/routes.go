package fabric

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/opd-ai/headlink/address"
	"github.com/opd-ai/headlink/crypto"
	"github.com/opd-ai/headlink/limits"
	"github.com/opd-ai/headlink/transport"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"
)

// PairRequest is the body of POST /pair.
type PairRequest struct {
	PeerPort int `json:"peer_port"`
}

// ServeRequest implements transport.Handler.
func (s *Service) ServeRequest(ctx context.Context, req *transport.Request) transport.Response {
	parts := splitPath(req.Path)

	switch {
	case len(parts) == 1 && parts[0] == "pair":
		return s.dispatch(ctx, req, map[string]route{http.MethodPost: s.handlePair})
	case len(parts) == 1 && parts[0] == "health":
		return s.dispatch(ctx, req, map[string]route{http.MethodGet: s.handleHealth})
	case len(parts) == 1 && parts[0] == "metrics":
		return s.dispatch(ctx, req, map[string]route{http.MethodGet: s.handleMetrics})
	case len(parts) == 1 && parts[0] == "sessions":
		return s.dispatch(ctx, req, map[string]route{http.MethodGet: s.handleListSessions})
	case len(parts) == 2 && parts[0] == "sessions":
		return s.dispatch(ctx, req, map[string]route{
			http.MethodGet:    s.withSession(parts[1], s.handleGetSession),
			http.MethodDelete: s.withSession(parts[1], s.handleDeleteSession),
		})
	case len(parts) == 3 && parts[0] == "sessions" && parts[2] == "push":
		return s.dispatch(ctx, req, map[string]route{
			http.MethodPost: s.withSession(parts[1], s.handlePush),
		})
	case len(parts) == 2 && parts[0] == "secrets":
		return s.dispatch(ctx, req, map[string]route{
			http.MethodGet:  s.withSecret(parts[1], s.handleGetSecret),
			http.MethodPost: s.withSecret(parts[1], s.handlePutSecret),
		})
	}
	return transport.NotFound()
}

// route serves one method on one path.
type route func(ctx context.Context, req *transport.Request) transport.Response

// dispatch picks the route for req.Method, answering 405 when there is none.
func (s *Service) dispatch(ctx context.Context, req *transport.Request, routes map[string]route) transport.Response {
	fn, ok := routes[req.Method]
	if !ok {
		allowed := make([]string, 0, len(routes))
		for m := range routes {
			allowed = append(allowed, m)
		}
		sort.Strings(allowed)
		return transport.Error(http.StatusMethodNotAllowed, "method not allowed").
			WithHeader("Allow", strings.Join(allowed, ", "))
	}
	return fn(ctx, req)
}

func (s *Service) withSession(raw string, fn func(context.Context, *transport.Request, *Session) transport.Response) route {
	return func(ctx context.Context, req *transport.Request) transport.Response {
		addr, err := address.ParseAddress[uint64](raw)
		if err != nil {
			return transport.Error(http.StatusBadRequest, err.Error())
		}
		session, err := s.Session(addr)
		if err != nil {
			return transport.NotFound()
		}
		return fn(ctx, req, session)
	}
}

func (s *Service) withSecret(name string, fn func(context.Context, *transport.Request, string) transport.Response) route {
	return func(ctx context.Context, req *transport.Request) transport.Response {
		if s.archive == nil {
			return transport.NotFound()
		}
		return fn(ctx, req, name)
	}
}

func (s *Service) handlePair(ctx context.Context, req *transport.Request) transport.Response {
	var body PairRequest
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return transport.Error(http.StatusBadRequest, "invalid pair request: "+err.Error())
	}

	session, err := s.Pair(ctx, body.PeerPort)
	switch {
	case errors.Is(err, ErrInvalidPeerPort):
		return transport.Error(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNoFreePorts), errors.Is(err, ErrServiceClosed):
		return transport.Error(http.StatusServiceUnavailable, err.Error())
	case err != nil:
		logrus.WithFields(logrus.Fields{
			"function":  "handlePair",
			"package":   "fabric",
			"peer_port": body.PeerPort,
			"error":     err.Error(),
		}).Warn("Pairing failed")
		return transport.Error(http.StatusInternalServerError, err.Error())
	}
	return transport.JSON(http.StatusCreated, session.Info())
}

func (s *Service) handleHealth(ctx context.Context, req *transport.Request) transport.Response {
	return transport.JSON(http.StatusOK, s.Health())
}

func (s *Service) handleMetrics(ctx context.Context, req *transport.Request) transport.Response {
	if s.gatherer == nil {
		return transport.NotFound()
	}
	families, err := s.gatherer.Gather()
	if err != nil {
		return transport.Error(http.StatusInternalServerError, err.Error())
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, format)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return transport.Error(http.StatusInternalServerError, err.Error())
		}
	}
	return transport.OK(buf.Bytes()).WithHeader("Content-Type", string(format))
}

func (s *Service) handleListSessions(ctx context.Context, req *transport.Request) transport.Response {
	sessions := s.Sessions()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	return transport.JSON(http.StatusOK, infos)
}

func (s *Service) handleGetSession(ctx context.Context, req *transport.Request, session *Session) transport.Response {
	return transport.JSON(http.StatusOK, session.Info())
}

func (s *Service) handleDeleteSession(ctx context.Context, req *transport.Request, session *Session) transport.Response {
	if err := s.Remove(session.Address()); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return transport.NotFound()
		}
		return transport.Error(http.StatusInternalServerError, err.Error())
	}
	return transport.NewResponse(http.StatusNoContent, nil)
}

func (s *Service) handlePush(ctx context.Context, req *transport.Request, session *Session) transport.Response {
	err := s.Push(session.Address(), req.Body)
	switch {
	case err == nil:
		return transport.NewResponse(http.StatusAccepted, nil)
	case errors.Is(err, limits.ErrMessageEmpty):
		return transport.Error(http.StatusBadRequest, err.Error())
	case errors.Is(err, limits.ErrMessageTooLarge):
		return transport.Error(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, transport.ErrChannelClosed):
		return transport.NotFound()
	default:
		return transport.Error(http.StatusBadGateway, err.Error())
	}
}

func (s *Service) handlePutSecret(ctx context.Context, req *transport.Request, name string) transport.Response {
	if err := s.archive.Put(name, req.Body); err != nil {
		if errors.Is(err, crypto.ErrInvalidSecretName) {
			return transport.Error(http.StatusBadRequest, err.Error())
		}
		return transport.Error(http.StatusInternalServerError, err.Error())
	}
	return transport.NewResponse(http.StatusCreated, nil)
}

func (s *Service) handleGetSecret(ctx context.Context, req *transport.Request, name string) transport.Response {
	secret, err := s.archive.Get(name)
	switch {
	case err == nil:
		return transport.OK(secret).WithHeader("Content-Type", "application/octet-stream")
	case errors.Is(err, crypto.ErrSecretNotFound):
		return transport.NotFound()
	case errors.Is(err, crypto.ErrInvalidSecretName):
		return transport.Error(http.StatusBadRequest, err.Error())
	default:
		return transport.Error(http.StatusInternalServerError, err.Error())
	}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
