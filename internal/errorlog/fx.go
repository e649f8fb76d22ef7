package errorlog

import (
	"github.com/smallbiznis/fortuna/internal/errorlog/repository"
	"github.com/smallbiznis/fortuna/internal/errorlog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("errorlog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
