// Package logx is a thin structured-logging layer over zerolog.
//
// Components receive a logx.Logger and attach fixed fields with With(),
// so log routing (console vs file) stays a main-package concern.
package logx
