package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"

	"log/slog"

	"conveyor/internal/api"
	"conveyor/internal/daemon"
	"conveyor/internal/logging"
)

// defaultHistoryLimit caps History responses when the caller sends no limit.
const defaultHistoryLimit = 50

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
	if err := rpcServer.RegisterName("Conveyor", srv); err != nil {
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
					logging.String("impact", "IPC clients may fail to connect"),
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
			logging.String("impact", "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun conveyor stop"))
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
	return s.logger.With(logging.String("component", "ipc"))
}

func (s *service) Ping(_ PingRequest, resp *PingResponse) error {
	resp.PID = os.Getpid()
	return nil
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("engine start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "engine started"
	s.log().Info("engine started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("engine stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("engine stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status()
	resp.Running = status.Running
	resp.PID = status.PID
	resp.Workers = status.Workers
	resp.StartedAt = api.FormatTime(status.StartedAt)
	resp.HistoryDBPath = status.HistoryDBPath
	resp.LockPath = status.LockFilePath
	resp.APIAddr = s.daemon.APIAddr()
	resp.StreamAddr = s.daemon.StreamAddr()
	resp.Stats = api.FromStats(status.Engine, status.Hub)
	if len(status.Preflight) > 0 {
		resp.Preflight = make([]PreflightResult, 0, len(status.Preflight))
		for _, check := range status.Preflight {
			resp.Preflight = append(resp.Preflight, PreflightResult{
				Name:   check.Name,
				Passed: check.Passed,
				Detail: check.Detail,
			})
		}
	}
	return nil
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	s.log().Debug("pipeline submit requested",
		logging.Int("item_count", len(req.Items)),
		logging.String(logging.FieldOwnerID, req.OwnerID))
	pipeline, err := s.daemon.Submit(daemon.SubmitRequest{
		Items:      req.Items,
		OwnerID:    req.OwnerID,
		Priority:   req.Priority,
		MaxRetries: req.MaxRetries,
		Plan:       req.Plan,
	})
	if err != nil {
		return err
	}
	resp.Pipeline = api.FromPipeline(pipeline)
	s.log().Info("pipeline submitted via IPC",
		logging.String(logging.FieldEventType, "ipc_submit"),
		logging.String(logging.FieldPipelineID, pipeline.ID),
		logging.Int("job_count", len(pipeline.JobIDs)))
	return nil
}

func (s *service) List(req ListRequest, resp *ListResponse) error {
	pipelines := s.daemon.ListPipelines(req.Statuses)
	resp.Pipelines = api.SortPipelinesNewestFirst(api.FromPipelines(pipelines))
	return nil
}

func (s *service) Describe(req DescribeRequest, resp *DescribeResponse) error {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return errors.New("describe requires a pipeline id")
	}
	if pipeline, jobs, ok := s.daemon.DescribePipeline(id); ok {
		detail := api.Detail(pipeline, jobs)
		detail.Jobs = api.SortJobsOldestFirst(detail.Jobs)
		resp.Detail = detail
		return nil
	}
	// Pipelines from a previous daemon run only exist in the archive; serve
	// them from there instead of failing the describe.
	rec, jobs, err := s.daemon.HistoryDetail(s.ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("pipeline %s not found", id)
	}
	resp.Detail = api.FromHistoryDetail(rec, jobs)
	resp.Archived = true
	return nil
}

func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return errors.New("cancel requires a pipeline id")
	}
	s.log().Debug("pipeline cancel requested", logging.String(logging.FieldPipelineID, id))
	resp.Cancelled = s.daemon.CancelPipeline(id)
	if resp.Cancelled {
		s.log().Info("pipeline cancelled via IPC",
			logging.String(logging.FieldEventType, "ipc_cancel"),
			logging.String(logging.FieldPipelineID, id))
	}
	return nil
}

func (s *service) Stats(_ StatsRequest, resp *StatsResponse) error {
	sched, conns := s.daemon.EngineStats()
	resp.Stats = api.FromStats(sched, conns)
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	limit := req.Limit
	if limit < 0 {
		return fmt.Errorf("invalid history limit %d", limit)
	}
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	records, err := s.daemon.History(s.ctx, limit)
	if err != nil {
		return err
	}
	resp.Entries = api.FromHistoryPipelines(records)
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
