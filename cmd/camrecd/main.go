package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/abihf/camrec"
	"github.com/abihf/camrec/config"
	"github.com/abihf/camrec/protocol"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

var conf = config.Load()

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: conf.Level()})))
	if err := serve(); err != nil {
		log.Fatal(err)
	}
}

func serve() error {
	if isAlreadyRun(conf.PidFile) {
		return errors.New("already run")
	}

	rec, err := camrec.NewFromConfig(conf, slog.Default())
	if err != nil {
		return errors.Wrap(err, "Can not initialize recorder")
	}

	if err := writeLockFile(conf.PidFile); err != nil {
		return errors.Wrap(err, "Can not write pid file")
	}
	defer os.Remove(conf.PidFile)

	os.Remove(conf.Socket)

	ln, err := net.Listen("unix", conf.Socket)
	if err != nil {
		return errors.Wrap(err, "Listen error")
	}
	defer ln.Close()

	os.Chmod(conf.Socket, 0666)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return accept(ctx, ln, rec)
	})
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	if conf.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: conf.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "Metrics server error")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	daemon.SdNotify(false, daemon.SdNotifyReady)
	slog.Info("Serving", "socket", conf.Socket, "metrics", conf.MetricsAddr)

	err = g.Wait()
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	slog.Info("Shutting down, draining writer")
	rec.StopRecording(true)
	return err
}

func accept(ctx context.Context, ln net.Listener, rec *camrec.Recorder) error {
	for {
		fd, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "Accept error")
		}

		go handle(ctx, rec, fd)
	}
}

func handle(ctx context.Context, rec *camrec.Recorder, c net.Conn) {
	defer c.Close()

	for {
		req, err := protocol.ReadReq(c)
		if err != nil {
			if err != io.EOF {
				slog.Warn("Can not read request", "error", err)
			}
			return
		}

		extras, err := dispatch(ctx, rec, req)
		if err != nil {
			slog.Warn("Request failed", "action", req.Action, "error", err)
			protocol.WriteErrorRes(c, err)
		} else {
			protocol.WriteSuccessRes(c, extras)
		}
	}
}

func dispatch(ctx context.Context, rec *camrec.Recorder, req *protocol.Req) (map[string]string, error) {
	switch req.Action {
	case protocol.ActionSnapshot:
		path, err := rec.SaveOneImage(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"path": path}, nil

	case protocol.ActionStart:
		path := protocol.ToStartReq(req).Path
		if path == "" {
			path = conf.PathTemplate
		}
		return nil, rec.StartRecording(path)

	case protocol.ActionStop:
		rec.StopRecording(protocol.ToStopReq(req).Wait)
		return nil, nil

	case protocol.ActionEnable:
		rec.EnableWrite(protocol.ToEnableReq(req).State)
		return nil, nil

	case protocol.ActionControl:
		ctl, err := protocol.ToControlReq(req)
		if err != nil {
			return nil, err
		}
		return nil, rec.SetControl(ctl.Name, ctl.Value)

	case protocol.ActionSettings:
		settings, err := protocol.ToSettingsReq(req)
		if err != nil {
			return nil, err
		}
		return nil, rec.LoadSettings(settings.File, settings.Setting)

	case protocol.ActionStatus:
		st := rec.Status()
		return map[string]string{
			"state":         st.State.String(),
			"pending":       strconv.Itoa(st.Pending),
			"write_enabled": strconv.FormatBool(st.WriteEnabled),
			"frames":        strconv.FormatUint(st.Device.Frames, 10),
			"failures":      strconv.FormatUint(st.Device.Failures, 10),
			"avg_interval":  st.Device.AvgInterval.String(),
		}, nil
	}
	return nil, errors.Errorf("Unknown action %q", req.Action)
}

func isAlreadyRun(path string) bool {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false
	}

	pidStr, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Can not read pid file", "error", err)
		return false
	}
	pid, err := strconv.Atoi(string(pidStr))
	if err != nil {
		slog.Warn("Invalid existing pid file", "error", err)
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		slog.Warn("Can not find current process", "error", err)
		return false
	}

	return proc.Signal(syscall.Signal(0)) == nil
}

func writeLockFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(f, "%d", os.Getpid())
	return f.Close()
}
