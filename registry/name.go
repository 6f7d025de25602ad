package registry

import (
	"reflect"
	"runtime"
	"strings"

	"github.com/corda/corda-runtime-os-sub030/flow"
)

// flowName derives a registration name from the flow's function, dropping the package
// and receiver.
func flowName(f flow.Flow) string {
	full := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()

	name := full[strings.LastIndex(full, ".")+1:]

	return strings.TrimSuffix(name, "-fm")
}
