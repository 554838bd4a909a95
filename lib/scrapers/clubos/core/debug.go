package core

import (
	"gymassist-backend/lib/restyutil"
)

var restyInstrumentOutput restyutil.InstrumentOutput

// SetRestyInstrumentOutput dumps every portal request/response pair to the
// given output. Only clients created after the call are instrumented.
func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}
