package httpapi

import "time"

// nowUTC is overridable in tests; production always uses time.Now.
var nowUTCFn = time.Now

func nowUTC() time.Time { return nowUTCFn() }
