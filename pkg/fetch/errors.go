package fetch

import "errors"

// ErrManagerClosed is delivered to tasks started after, or still pending
// during, Manager.Close.
var ErrManagerClosed = errors.New("fetch: manager closed")
