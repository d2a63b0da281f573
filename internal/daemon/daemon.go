package daemon

import (
	"context"
	"time"

	"github.com/kardianos/service"

	"alkemi.dev/ipveil/common"
	"alkemi.dev/ipveil/internal/server"
)

type program struct {
	opt *common.Options
}

func (p *program) Start(_ service.Service) error {
	go server.Run(p.opt)
	return nil
}

func (p *program) Stop(_ service.Service) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server.Stop(ctx)

	return nil
}

// New runs the proxy server under the system service manager.
func New(opt *common.Options) error {
	svc, err := service.New(&program{opt: opt}, &service.Config{
		Name:        common.App,
		DisplayName: "ipveil rotating proxy",
		Description: "Rotating upstream proxy server with pool management",
	})
	if err != nil {
		return err
	}

	return svc.Run()
}
