package document

import (
	"github.com/smallbiznis/docpipe/internal/document/repository"
	"github.com/smallbiznis/docpipe/internal/document/service"
	"go.uber.org/fx"
)

var Module = fx.Module("document",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
