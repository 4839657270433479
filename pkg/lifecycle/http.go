package lifecycle

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/junbin-yang/go-policebox/pkg/logger"
	"github.com/junbin-yang/go-policebox/pkg/timer"
)

const (
	listenAttempts = 3
	listenBackoff  = 100 * time.Millisecond
)

// AddHTTPServer 把 HTTP 服务作为任务运行，退出时调用 Shutdown
//
// 监听在 AddHTTPServer 返回之前完成，返回实际监听的地址（addr 可以是 ":0"）。
func (m *Manager) AddHTTPServer(name, addr string, handler http.Handler) (net.Addr, error) {
	var ln net.Listener
	// 进程刚重启时端口可能还没有释放
	err := timer.ExponentialBackoff(listenAttempts, listenBackoff, func() (err error) {
		ln, err = net.Listen("tcp", addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: handler}

	err = m.AddWorker(name,
		func(ctx context.Context) error {
			m.log.Info("HTTP 服务启动", logger.String("worker", name), logger.String("addr", ln.Addr().String()))
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		WithStopFunc(func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		}),
	)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return ln.Addr(), nil
}
