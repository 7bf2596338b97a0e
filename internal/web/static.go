package web

import "embed"

// staticFiles holds the control page served at /.
//
//go:embed static/*
var staticFiles embed.FS
