package errors

import "google.golang.org/grpc/codes"

// Copilot 服务错误码（服务码 21）。
// 错误种类与处理策略：
//   - 请求类错误（400/404/422）：结构化返回，不改变任何状态。
//   - 上游不可用（503）：向量库/嵌入/数据库故障，可安全重试，无部分写入。
//   - 生成端不可用不走错误通道：Composer 返回降级答案。
var (
	// ErrUnsupportedFormat 文档格式不支持（摄取）。
	ErrUnsupportedFormat = Register(New(MakeCode(ServiceCopilot, CategoryRequest, 1), 400, codes.InvalidArgument, "Unsupported document format", "文档格式不支持"))

	// ErrUnknownScope 未知产线或工位。
	ErrUnknownScope = Register(New(MakeCode(ServiceCopilot, CategoryRequest, 2), 400, codes.InvalidArgument, "Unknown line or station", "未知产线或工位"))

	// ErrInvalidRequest 请求不满足业务校验（如 justify 缺少备注）。
	ErrInvalidRequest = Register(New(MakeCode(ServiceCopilot, CategoryRequest, 3), 400, codes.InvalidArgument, "Invalid request", "请求无效"))

	// ErrViolationNotFound 违规记录不存在。
	ErrViolationNotFound = Register(New(MakeCode(ServiceCopilot, CategoryResource, 1), 404, codes.NotFound, "Violation not found", "违规记录不存在"))

	// ErrTemplateNotFound 场景模板不存在。
	ErrTemplateNotFound = Register(New(MakeCode(ServiceCopilot, CategoryResource, 2), 404, codes.NotFound, "Scenario template not found", "场景模板不存在"))

	// ErrUpstreamUnavailable 上游依赖不可用（向量库、嵌入、数据库）。
	ErrUpstreamUnavailable = Register(New(MakeCode(ServiceCopilot, CategoryNetwork, 1), 503, codes.Unavailable, "Upstream dependency unavailable", "上游依赖不可用"))

	// ErrValidationFailed 语义信号校验失败（缺少 state 或 loss_category）。
	ErrValidationFailed = Register(New(MakeCode(ServiceCopilot, CategoryRequest, 4), 422, codes.FailedPrecondition, "Semantic signal validation failed", "语义信号校验失败"))

	// ErrIngestFailed 文档摄取失败。
	ErrIngestFailed = Register(New(MakeCode(ServiceCopilot, CategoryInternal, 1), 500, codes.Internal, "Document ingestion failed", "文档摄取失败"))

	// ErrQueryFailed 检索失败。
	ErrQueryFailed = Register(New(MakeCode(ServiceCopilot, CategoryInternal, 2), 500, codes.Internal, "Retrieval failed", "检索失败"))
)
