package server

import (
	"errors"

	"planvault/pkg/chunkstore"
	"planvault/pkg/meta"
	"planvault/pkg/pathtree"
	"planvault/pkg/storage"
	"planvault/pkg/upload"
	"planvault/pkg/version"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToStatus 把核心层的领域错误映射成 gRPC 状态
// API 层 (外部协作方) 直接复用这张映射表，核心代码里不出现任何传输类型
//
// 分类对照:
//
//	NotFound       -> codes.NotFound
//	Conflict       -> codes.AlreadyExists / codes.Aborted
//	Integrity      -> codes.DataLoss / codes.FailedPrecondition
//	InvalidInput   -> codes.InvalidArgument
//	Backend 不可用  -> codes.Unavailable
func ToStatus(err error) error {
	if err == nil {
		return nil
	}

	switch {
	// NotFound 族
	case errors.Is(err, meta.ErrNodeNotFound),
		errors.Is(err, meta.ErrUserNotFound),
		errors.Is(err, version.ErrVersionNotFound),
		errors.Is(err, upload.ErrSessionNotFound),
		errors.Is(err, chunkstore.ErrChunkNotFound):
		return status.Error(codes.NotFound, err.Error())

	// Conflict 族
	case errors.Is(err, pathtree.ErrPathExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, upload.ErrSessionClosed):
		return status.Error(codes.Aborted, err.Error())

	// Integrity 族
	case errors.Is(err, chunkstore.ErrHashMismatch):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, chunkstore.ErrBlobMissing):
		// 元数据和 Blob 失步，比单纯的 NotFound 严重得多
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, upload.ErrIncompleteUpload):
		return status.Error(codes.FailedPrecondition, err.Error())

	// InvalidInput 族
	case errors.Is(err, pathtree.ErrInvalidPath),
		errors.Is(err, pathtree.ErrNotDirectory),
		errors.Is(err, upload.ErrTargetNotFile),
		errors.Is(err, version.ErrNotFile),
		errors.Is(err, version.ErrForeignVersion),
		errors.Is(err, version.ErrBadChunkRefs):
		return status.Error(codes.InvalidArgument, err.Error())

	// Blob 后端不可用 (适配器的有界重试已经耗尽)
	case errors.Is(err, storage.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	}

	// MissingChunks 是带载荷的结构化错误，单独匹配
	var missing *version.MissingChunksError
	if errors.As(err, &missing) {
		return status.Error(codes.FailedPrecondition, err.Error())
	}

	return status.Error(codes.Internal, err.Error())
}
