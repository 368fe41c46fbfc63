package batch

import (
	"github.com/smallbiznis/docpipe/internal/batch/service"
	"go.uber.org/fx"
)

var Module = fx.Module("batch",
	fx.Provide(service.New),
)
