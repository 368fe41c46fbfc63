package resolution

import (
	"github.com/smallbiznis/docpipe/internal/resolution/service"
	"go.uber.org/fx"
)

var Module = fx.Module("resolution",
	fx.Provide(service.New),
)
