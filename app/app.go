package dpapp

import (
	appbase "github.com/dandiarchive/dandipub/app/base"
	_ "github.com/dandiarchive/dandipub/app/catalog"
	_ "github.com/dandiarchive/dandipub/app/healthcheck"
	_ "github.com/dandiarchive/dandipub/app/publish"
	_ "github.com/dandiarchive/dandipub/app/queue"
)

var App = appbase.App
