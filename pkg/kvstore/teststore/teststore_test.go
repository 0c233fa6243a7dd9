package teststore

import (
	"testing"

	"go.corestream.dev/corestream/pkg/kvstore/testsuite"
)

func TestSuite(t *testing.T) {
	testsuite.RunTests(t, New())
}
