package webhookevent

import "go.uber.org/fx"

var Module = fx.Module("webhookevent",
	fx.Provide(NewStore),
)
