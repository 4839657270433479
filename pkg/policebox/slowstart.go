package policebox

// SlowStartInput 慢启动检测的单周期输入
type SlowStartInput struct {
	Delivered          []float64
	LossFreeCount      int
	IntervalsSinceDrop []int
	Restart            []bool
	Weights            []float64
	FullySafe          bool
}

// SlowStartResult 慢启动检测结果
type SlowStartResult struct {
	Controlled    []bool // 本周期允许限速
	Exiting       []bool // 本周期刚退出慢启动，调用方应重设基线
	DropPermitted []bool // 允许一次慢启动退出丢包
}

// SlowStartDetector 在流仍处于爬升阶段时抑制限速
type SlowStartDetector struct {
	inSlowStart []bool
	baseline    []float64
	threshold   int
}

// NewSlowStartDetector 创建检测器，所有流初始处于慢启动
func NewSlowStartDetector(n, threshold int) *SlowStartDetector {
	d := &SlowStartDetector{
		inSlowStart: make([]bool, n),
		baseline:    make([]float64, n),
		threshold:   threshold,
	}
	for i := range d.inSlowStart {
		d.inSlowStart[i] = true
	}
	return d
}

// InSlowStart 返回流是否仍处于慢启动
func (d *SlowStartDetector) InSlowStart(flow FlowID) bool {
	return d.inSlowStart[flow]
}

// Baseline 返回上一次刷新记录的交付量
func (d *SlowStartDetector) Baseline() []float64 {
	return append([]float64(nil), d.baseline...)
}

// Refresh 执行一次检测
func (d *SlowStartDetector) Refresh(in SlowStartInput) SlowStartResult {
	n := len(d.inSlowStart)
	res := SlowStartResult{
		Controlled:    make([]bool, n),
		Exiting:       make([]bool, n),
		DropPermitted: make([]bool, n),
	}
	// 长时间无丢包时整体放行
	if in.LossFreeCount > d.threshold || in.FullySafe {
		copy(d.baseline, in.Delivered)
		return res
	}

	sum := 0.0
	for _, v := range in.Delivered {
		sum += v
	}

	for i := 0; i < n; i++ {
		if i < len(in.Restart) && in.Restart[i] {
			d.inSlowStart[i] = true
		}
		if !d.inSlowStart[i] {
			res.Controlled[i] = true
			continue
		}
		if 2*in.Delivered[i] < 0.8*in.Weights[i]*sum {
			continue
		}

		res.Exiting[i] = true
		if in.IntervalsSinceDrop[i] >= 1 {
			res.DropPermitted[i] = true
		}
		d.inSlowStart[i] = false
		res.Controlled[i] = true
	}
	copy(d.baseline, in.Delivered)
	return res
}
