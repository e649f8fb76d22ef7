package auth

import (
	"github.com/smallbiznis/fortuna/internal/auth/domain"
	"github.com/smallbiznis/fortuna/internal/auth/service"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.service",
	fx.Provide(service.NewJWTVerifier),
	fx.Provide(func(v *service.JWTVerifier) domain.TokenVerifier { return v }),
)
