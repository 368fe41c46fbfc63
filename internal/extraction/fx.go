package extraction

import (
	"github.com/smallbiznis/docpipe/internal/extraction/mistral"
	"github.com/smallbiznis/docpipe/internal/extraction/service"
	"go.uber.org/fx"
)

var Module = fx.Module("extraction",
	fx.Provide(mistral.New),
	fx.Provide(service.New),
)
