//go:build wgpu

package gpu

import (
	"fmt"
	"unsafe"

	"github.com/cogentcore/webgpu/wgpu"
)

// WGPUDevice runs the kernel on a hardware adapter through wgpu-native.
type WGPUDevice struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	info     wgpu.AdapterInfo

	pipeline  *wgpu.ComputePipeline
	bindGroup *wgpu.BindGroup
	buffers   []*wgpu.Buffer

	baseSalt      *wgpu.Buffer
	result        *wgpu.Buffer
	matchFlags    *wgpu.Buffer
	flagStaging   *wgpu.Buffer
	recordStaging *wgpu.Buffer

	batchSize  uint64
	workgroups uint32
}

// NewWGPUDevice acquires a high-performance adapter and a device on it.
func NewWGPUDevice() (Device, error) {
	instance := wgpu.CreateInstance(nil)

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: %v", ErrNoAdapter, err)
	}

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{Label: "CREATE3 salt miner"})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("request device: %w", err)
	}

	return &WGPUDevice{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    device.GetQueue(),
		info:     adapter.GetInfo(),
	}, nil
}

func (d *WGPUDevice) Name() string {
	return fmt.Sprintf("%s (%v)", d.info.Name, d.info.BackendType)
}

func (d *WGPUDevice) initBuffer(label string, contents []byte, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	buf, err := d.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: contents,
		Usage:    usage,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s buffer: %w", label, err)
	}
	d.buffers = append(d.buffers, buf)
	return buf, nil
}

func (d *WGPUDevice) createBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s buffer: %w", label, err)
	}
	d.buffers = append(d.buffers, buf)
	return buf, nil
}

func (d *WGPUDevice) Setup(s *Setup) error {
	shader, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "salt mining shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: ShaderSource(s.WorkgroupSize)},
	})
	if err != nil {
		return fmt.Errorf("compile shader: %w", err)
	}
	defer shader.Release()

	d.pipeline, err = d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: "salt mining pipeline",
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     shader,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	d.batchSize = uint64(s.BatchSize)
	d.workgroups = s.Workgroups()

	readOnly := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
	if d.baseSalt, err = d.initBuffer("base salt", s.BaseSalt[:], readOnly); err != nil {
		return err
	}
	deployer, err := d.initBuffer("deployer", s.Deployer[:], readOnly)
	if err != nil {
		return err
	}
	proxyHash, err := d.initBuffer("proxy initcode hash", s.ProxyInitCodeHash[:], readOnly)
	if err != nil {
		return err
	}
	patternInfo, err := d.initBuffer("pattern info", s.Pattern.Bytes(), readOnly)
	if err != nil {
		return err
	}
	patternData, err := d.initBuffer("pattern data", s.PatternData[:], readOnly)
	if err != nil {
		return err
	}
	params, err := d.initBuffer("params", s.ParamsBytes(), wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
	if err != nil {
		return err
	}

	if d.result, err = d.createBuffer("result", d.batchSize*RecordSize, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc); err != nil {
		return err
	}
	if d.matchFlags, err = d.createBuffer("match flag", d.batchSize*FlagSize, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc); err != nil {
		return err
	}
	if d.flagStaging, err = d.createBuffer("match flag staging", d.batchSize*FlagSize, wgpu.BufferUsageMapRead|wgpu.BufferUsageCopyDst); err != nil {
		return err
	}

	layout := d.pipeline.GetBindGroupLayout(0)
	defer layout.Release()

	d.bindGroup, err = d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "salt miner bind group",
		Layout: layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: d.baseSalt, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: deployer, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: proxyHash, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: d.result, Size: wgpu.WholeSize},
			{Binding: 4, Buffer: d.matchFlags, Size: wgpu.WholeSize},
			{Binding: 5, Buffer: patternInfo, Size: wgpu.WholeSize},
			{Binding: 6, Buffer: patternData, Size: wgpu.WholeSize},
			{Binding: 7, Buffer: params, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group: %w", err)
	}
	return nil
}

func (d *WGPUDevice) RunBatch(nonce uint64) ([]uint32, error) {
	if err := d.queue.WriteBuffer(d.baseSalt, NonceOffset, NonceBytes(nonce)); err != nil {
		return nil, fmt.Errorf("write nonce: %w", err)
	}

	encoder, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "mining batch encoder"})
	if err != nil {
		return nil, err
	}
	defer encoder.Release()

	pass := encoder.BeginComputePass(&wgpu.ComputePassDescriptor{Label: "salt mining pass"})
	pass.SetPipeline(d.pipeline)
	pass.SetBindGroup(0, d.bindGroup, nil)
	pass.DispatchWorkgroups(d.workgroups, 1, 1)
	if err := pass.End(); err != nil {
		pass.Release()
		return nil, fmt.Errorf("end compute pass: %w", err)
	}
	pass.Release()

	// only the flags come back; records stay on the device
	size := d.batchSize * FlagSize
	if err := encoder.CopyBufferToBuffer(d.matchFlags, 0, d.flagStaging, 0, size); err != nil {
		return nil, fmt.Errorf("copy match flags: %w", err)
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, err
	}
	defer cmd.Release()
	d.queue.Submit(cmd)

	data, err := d.mapRead(d.flagStaging, size)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/FlagSize), nil
}

func (d *WGPUDevice) ReadRecords(lanes []uint32) ([]Record, error) {
	size := uint64(len(lanes)) * RecordSize
	staging, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "result staging",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create result staging buffer: %w", err)
	}
	d.recordStaging = staging

	encoder, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "result copy encoder"})
	if err != nil {
		return nil, err
	}
	defer encoder.Release()

	for i, lane := range lanes {
		src := uint64(lane) * RecordSize
		dst := uint64(i) * RecordSize
		if err := encoder.CopyBufferToBuffer(d.result, src, staging, dst, RecordSize); err != nil {
			return nil, fmt.Errorf("copy record of lane %d: %w", lane, err)
		}
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, err
	}
	defer cmd.Release()
	d.queue.Submit(cmd)

	data, err := d.mapRead(staging, size)
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(lanes))
	for i := range records {
		records[i] = DecodeRecord(data[i*RecordSize:])
	}
	return records, nil
}

func (d *WGPUDevice) mapRead(buf *wgpu.Buffer, size uint64) ([]byte, error) {
	var (
		status wgpu.BufferMapAsyncStatus
		called bool
	)
	err := buf.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status, called = s, true
	})
	if err != nil {
		return nil, fmt.Errorf("map buffer: %w", err)
	}
	d.device.Poll(true, nil)
	if !called || status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("map buffer: status %v", status)
	}
	return buf.GetMappedRange(0, uint(size)), nil
}

func (d *WGPUDevice) Unmap() error {
	if d.recordStaging != nil {
		err := d.recordStaging.Unmap()
		d.recordStaging.Release()
		d.recordStaging = nil
		if err != nil {
			return err
		}
	}
	return d.flagStaging.Unmap()
}

func (d *WGPUDevice) Release() {
	if d.bindGroup != nil {
		d.bindGroup.Release()
	}
	for i := len(d.buffers) - 1; i >= 0; i-- {
		d.buffers[i].Release()
	}
	d.buffers = nil
	if d.pipeline != nil {
		d.pipeline.Release()
	}
	d.queue.Release()
	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
}
