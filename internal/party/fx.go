package party

import (
	"github.com/smallbiznis/docpipe/internal/party/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("party",
	fx.Provide(repository.Provide),
)
