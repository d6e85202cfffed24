package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"log/slog"

	"strato/internal/cloud"
	"strato/internal/daemon"
	"strato/internal/logging"
	"strato/internal/store"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Strato", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually before restarting stratod"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.StoreDBPath = status.StoreDBPath
	resp.LockPath = status.LockFilePath
	resp.MetricsAddr = status.MetricsAddr
	resp.PendingTargets = append(resp.PendingTargets, status.PendingTargets...)
	return nil
}

func (s *service) DeployEnqueue(req DeployEnqueueRequest, resp *DeployEnqueueResponse) error {
	rec, err := s.daemon.EnqueueDeploy(s.ctx, req.Target)
	if err != nil {
		return err
	}
	resp.Deployment = FromDeploymentRecord(rec)
	s.log().Info("deployment enqueued via IPC",
		logging.String(logging.FieldEventType, "deploy_enqueue"),
		logging.String(logging.FieldTarget, rec.Target))
	return nil
}

func (s *service) DeployTrigger(_ DeployTriggerRequest, resp *DeployTriggerResponse) error {
	if err := s.daemon.TriggerDeploy(); err != nil {
		return err
	}
	resp.Triggered = true
	s.log().Debug("deploy pilot triggered via IPC")
	return nil
}

func (s *service) DeployList(req DeployListRequest, resp *DeployListResponse) error {
	records, err := s.daemon.ListDeployments(s.ctx, req.Target, req.Limit)
	if err != nil {
		return err
	}
	resp.Deployments = make([]Deployment, 0, len(records))
	for _, rec := range records {
		resp.Deployments = append(resp.Deployments, FromDeploymentRecord(rec))
	}
	return nil
}

func (s *service) VolumeList(req VolumeListRequest, resp *VolumeListResponse) error {
	states := make([]store.VolumeState, 0, len(req.States))
	for _, raw := range req.States {
		state, ok := store.ParseVolumeState(raw)
		if !ok {
			return fmt.Errorf("unknown volume state %q", raw)
		}
		states = append(states, state)
	}
	records, err := s.daemon.ListVolumes(s.ctx, states)
	if err != nil {
		return err
	}
	resp.Volumes = make([]Volume, 0, len(records))
	for _, rec := range records {
		resp.Volumes = append(resp.Volumes, FromVolumeRecord(rec))
	}
	return nil
}

func (s *service) JobList(req JobListRequest, resp *JobListResponse) error {
	phases := make([]cloud.JobPhase, 0, len(req.Phases))
	for _, raw := range req.Phases {
		phases = append(phases, cloud.JobPhase(raw))
	}
	records, err := s.daemon.ListJobs(s.ctx, phases)
	if err != nil {
		return err
	}
	resp.Jobs = make([]Job, 0, len(records))
	for _, rec := range records {
		resp.Jobs = append(resp.Jobs, FromJobRecord(rec))
	}
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
