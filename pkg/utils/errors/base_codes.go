package errors

import "google.golang.org/grpc/codes"

// 基础错误码（所有服务共享，服务码 00）。
var (
	// ErrBadRequest 请求参数错误。
	ErrBadRequest = Register(New(MakeCode(ServiceCommon, CategoryRequest, 1), 400, codes.InvalidArgument, "Bad request", "请求参数错误"))

	// ErrNotFound 资源不存在。
	ErrNotFound = Register(New(MakeCode(ServiceCommon, CategoryResource, 1), 404, codes.NotFound, "Resource not found", "资源不存在"))

	// ErrInternal 内部错误。
	ErrInternal = Register(New(MakeCode(ServiceCommon, CategoryInternal, 1), 500, codes.Internal, "Internal server error", "内部服务器错误"))

	// ErrDatabase 数据库错误。
	ErrDatabase = Register(New(MakeCode(ServiceInfraDB, CategoryDatabase, 1), 500, codes.Internal, "Database error", "数据库错误"))

	// ErrCache 缓存错误。
	ErrCache = Register(New(MakeCode(ServiceInfraCache, CategoryCache, 1), 500, codes.Internal, "Cache error", "缓存错误"))

	// ErrTimeout 请求超时。
	ErrTimeout = Register(New(MakeCode(ServiceCommon, CategoryTimeout, 1), 504, codes.DeadlineExceeded, "Request timeout", "请求超时"))
)
