package network

import "github.com/cockroachdb/errors"

// Stage 表示中继收发链路中的处理阶段。
//
// 主要用于在回调中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageHandshake   Stage = "handshake"
	StageRecvRaw     Stage = "recv_raw"    // 读取底层 WebSocket 帧
	StageDecode      Stage = "decode"      // 帧载荷 -> 消息
	StageDispatch    Stage = "dispatch"    // 消息 -> 路由/控制指令处理
	StageEncode      Stage = "encode"      // 业务对象 -> 帧
	StageSend        Stage = "send"        // 向目标会话写出
	StageReconstruct Stage = "reconstruct" // 图像/蒙版重建
)

// 统一的错误码常量。
//
// 注意：这些是用于日志/监控的稳定字符串，真正的 error 对象在下面通过 errors.New 构造。
const (
	ErrCodeHandshakeFailed   = "network:handshake_failed"
	ErrCodeRecvFailed        = "network:recv_failed"
	ErrCodeDecodeFailed      = "network:decode_failed"
	ErrCodeDispatchFailed    = "network:dispatch_failed"
	ErrCodeEncodeFailed      = "network:encode_failed"
	ErrCodeSendFailed        = "network:send_failed"
	ErrCodeReconstructFailed = "network:reconstruct_failed"
)

var (
	// ErrHandshakeFailed 表示握手阶段失败（例如 WebSocket 升级失败）。
	ErrHandshakeFailed = errors.New(ErrCodeHandshakeFailed)

	// ErrRecvFailed 表示在读取底层连接数据时发生错误。
	ErrRecvFailed = errors.New(ErrCodeRecvFailed)

	// ErrDecodeFailed 表示在将帧载荷解码为消息时发生错误。
	ErrDecodeFailed = errors.New(ErrCodeDecodeFailed)

	// ErrDispatchFailed 表示在处理消息时发生错误（包括处理过程中的 panic）。
	ErrDispatchFailed = errors.New(ErrCodeDispatchFailed)

	// ErrEncodeFailed 表示在将业务对象编码为帧时发生错误。
	ErrEncodeFailed = errors.New(ErrCodeEncodeFailed)

	// ErrSendFailed 表示在发送数据到对端时发生错误。
	ErrSendFailed = errors.New(ErrCodeSendFailed)

	// ErrReconstructFailed 表示图像或蒙版重建失败。
	ErrReconstructFailed = errors.New(ErrCodeReconstructFailed)
)

var stageErrors = map[Stage]error{
	StageHandshake:   ErrHandshakeFailed,
	StageRecvRaw:     ErrRecvFailed,
	StageDecode:      ErrDecodeFailed,
	StageDispatch:    ErrDispatchFailed,
	StageEncode:      ErrEncodeFailed,
	StageSend:        ErrSendFailed,
	StageReconstruct: ErrReconstructFailed,
}

// MarkStage 为 err 打上阶段标记。
//
// 标记基于 cockroachdb/errors.Mark，需使用 cockroachdb/errors.Is(err, ErrXxxFailed) 判断阶段，
// 标准库 errors.Is 无法识别该标记。
func MarkStage(err error, stage Stage) error {
	if err == nil {
		return nil
	}
	if mark, ok := stageErrors[stage]; ok {
		return errors.Mark(err, mark)
	}
	return err
}
