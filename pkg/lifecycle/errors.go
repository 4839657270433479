package lifecycle

import "fmt"

var (
	// ErrWorkerExists 同名任务已存在
	ErrWorkerExists = fmt.Errorf("任务已存在")

	// ErrWorkerNotFound 任务不存在
	ErrWorkerNotFound = fmt.Errorf("任务不存在")

	// ErrShutdownTimeout 退出超时
	ErrShutdownTimeout = fmt.Errorf("退出超时")

	// ErrAlreadyRunning 管理器已在运行
	ErrAlreadyRunning = fmt.Errorf("管理器已在运行")
)
