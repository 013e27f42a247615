//go:build !unix

package fsx

func isNoSpace(err error) bool { return false }
