//go:build wgpunative

package main

import _ "github.com/gogpu/gpufilter/backend/wgpunative"
