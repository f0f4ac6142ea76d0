//go:build windows && !deepdetect

package antidebug

func deepSignals() bool { return false }
