package response

import "sync"

// responsePool reuses Response values across requests. Handlers release a
// response after serialization via Release; holding a *Response past Release
// is a bug.
var responsePool = sync.Pool{
	New: func() interface{} {
		return &Response{}
	},
}

// Acquire returns a zeroed Response from the pool.
func Acquire() *Response {
	return responsePool.Get().(*Response)
}

// Release resets the response and returns it to the pool.
func Release(r *Response) {
	if r == nil {
		return
	}
	r.Code = 0
	r.HTTPCode = 0
	r.Message = ""
	r.Data = nil
	responsePool.Put(r)
}
