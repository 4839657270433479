package policebox

import "fmt"

var (
	// ErrNoFlows 没有配置任何流
	ErrNoFlows = fmt.Errorf("未配置任何流")

	// ErrInvalidWeights 权重为负或总和不为 1
	ErrInvalidWeights = fmt.Errorf("流权重无效")

	// ErrInvalidInterval 控制周期不是正数
	ErrInvalidInterval = fmt.Errorf("控制周期无效")

	// ErrInvalidParameter 平滑系数、阈值等参数越界
	ErrInvalidParameter = fmt.Errorf("参数无效")

	// ErrNilScheduler 未提供调度器
	ErrNilScheduler = fmt.Errorf("调度器为空")

	// ErrUnknownFairness 不支持的公平策略
	ErrUnknownFairness = fmt.Errorf("不支持的公平策略")

	// ErrUnknownAllocation 不支持的分配算法
	ErrUnknownAllocation = fmt.Errorf("不支持的分配算法")

	// ErrUnknownExploreMode 不支持的探测衰减方式
	ErrUnknownExploreMode = fmt.Errorf("不支持的探测衰减方式")
)
