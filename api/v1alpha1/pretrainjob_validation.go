// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package v1alpha1

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kaito-project/pretrain/pkg/sku"
	"github.com/kaito-project/pretrain/pkg/utils/consts"
	"github.com/kaito-project/pretrain/pkg/utils/plugin"
	"github.com/samber/lo"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/klog/v2"
	"knative.dev/pkg/apis"
)

var validPositionEmbeddings = []string{"learned_absolute", "rotary", "alibi", "none"}

// Validate checks a defaulted job. It must run after ApplyPreset and SetDefaults.
func (j *PretrainJob) Validate(ctx context.Context) (errs *apis.FieldError) {
	klog.V(4).InfoS("Validate pretrain job", "job", j.Name)

	if j.APIVersion != GroupVersion.String() {
		errs = errs.Also(apis.ErrInvalidValue(j.APIVersion, "apiVersion"))
	}
	if j.Kind != consts.KindPretrain {
		errs = errs.Also(apis.ErrInvalidValue(j.Kind, "kind"))
	}
	if j.Name == "" {
		errs = errs.Also(apis.ErrMissingField("metadata.name"))
	} else if msgs := validation.IsDNS1123Label(j.Name); len(msgs) > 0 {
		errs = errs.Also(apis.ErrInvalidValue(j.Name, "metadata.name", strings.Join(msgs, "; ")))
	}

	s := &j.Spec
	var specErrs *apis.FieldError
	specErrs = specErrs.Also(
		s.Resource.validate().ViaField("resource"),
		s.validateInstanceType().ViaField("resource"),
		s.Model.validate().ViaField("model"),
		s.validateParallelism(j.WorldSize()).ViaField("parallelism"),
		s.validateBatch(j.DataParallelSize()).ViaField("training"),
		s.validateSchedule().ViaField("optimizer"),
		s.Data.validate().ViaField("data"),
		s.Logging.validate().ViaField("logging"),
		s.Launcher.validate().ViaField("launcher"),
		s.Rendezvous.validate().ViaField("rendezvous"),
	)
	return errs.Also(specErrs.ViaField("spec"))
}

func (r *ResourceSpec) validate() (errs *apis.FieldError) {
	if r.Nodes == nil || *r.Nodes < 1 {
		errs = errs.Also(apis.ErrGeneric("at least one node is required", "nodes"))
	}
	if r.GPUsPerNode < 1 {
		errs = errs.Also(apis.ErrGeneric("at least one GPU per node is required", "gpusPerNode"))
	}
	if r.CPUsPerTask < 1 {
		errs = errs.Also(apis.ErrInvalidValue(r.CPUsPerTask, "cpusPerTask"))
	}
	return errs
}

// validateInstanceType checks a known GPU SKU against the GPUs the job asks for and
// the memory its preset needs with the preset's own parallel layout.
func (s *PretrainJobSpec) validateInstanceType() (errs *apis.FieldError) {
	r := s.Resource
	if r.InstanceType == "" {
		return nil
	}
	gpuConfig, ok := sku.GetGPUConfigBySKU(r.InstanceType)
	if !ok {
		return apis.ErrInvalidValue(fmt.Sprintf("Unsupported instance type %s", r.InstanceType), "instanceType")
	}
	if r.GPUsPerNode > gpuConfig.GPUCount {
		errs = errs.Also(apis.ErrGeneric(
			fmt.Sprintf("instance type %s has %d GPUs but gpusPerNode is %d", r.InstanceType, gpuConfig.GPUCount, r.GPUsPerNode),
			"gpusPerNode"))
	}
	if s.Parallelism.TensorModelParallelSize > 1 && !gpuConfig.NVLink {
		klog.InfoS("Tensor parallelism on an instance type without NVLink", "instanceType", r.InstanceType,
			"tensorModelParallelSize", s.Parallelism.TensorModelParallelSize)
	}

	m, ok := plugin.PresetRegister.Get(string(s.Model.Preset))
	if !ok {
		return errs
	}
	p := m.GetPretrainParameters()
	if p.PerGPUMemoryRequirement == "" || p.TensorModelParallelSize != s.Parallelism.TensorModelParallelSize ||
		p.PipelineModelParallelSize != s.Parallelism.PipelineModelParallelSize {
		return errs
	}
	required, err := resource.ParseQuantity(p.PerGPUMemoryRequirement)
	if err != nil {
		klog.ErrorS(err, "Invalid GPU memory requirement of preset", "preset", s.Model.Preset)
		return errs
	}
	available := resource.MustParse(fmt.Sprintf("%dGi", gpuConfig.PerGPUMem()))
	if available.Cmp(required) < 0 {
		errs = errs.Also(apis.ErrGeneric(
			fmt.Sprintf("instance type %s has %s of memory per GPU, preset %s needs %s", r.InstanceType, available.String(), s.Model.Preset, required.String()),
			"instanceType"))
	}
	return errs
}

func (m *ModelSpec) validate() (errs *apis.FieldError) {
	if m.Preset != "" && !plugin.IsValidPreset(string(m.Preset)) {
		errs = errs.Also(apis.ErrInvalidValue(fmt.Sprintf("Unsupported preset name %s", m.Preset), "preset"))
	}
	for field, v := range map[string]int{
		"numLayers":         m.NumLayers,
		"hiddenSize":        m.HiddenSize,
		"numAttentionHeads": m.NumAttentionHeads,
		"seqLength":         m.SeqLength,
	} {
		if v < 1 {
			errs = errs.Also(apis.ErrGeneric("must be set directly or through a preset", field))
		}
	}
	if m.NumAttentionHeads > 0 && m.HiddenSize%m.NumAttentionHeads != 0 {
		errs = errs.Also(apis.ErrGeneric(
			fmt.Sprintf("hiddenSize %d is not divisible by numAttentionHeads %d", m.HiddenSize, m.NumAttentionHeads),
			"hiddenSize", "numAttentionHeads"))
	}
	if m.MaxPositionEmbeddings > 0 && m.SeqLength > m.MaxPositionEmbeddings && m.PositionEmbeddingType == "learned_absolute" {
		errs = errs.Also(apis.ErrGeneric("seqLength exceeds maxPositionEmbeddings", "seqLength"))
	}
	if !lo.Contains(validPositionEmbeddings, m.PositionEmbeddingType) {
		errs = errs.Also(apis.ErrInvalidValue(m.PositionEmbeddingType, "positionEmbeddingType"))
	}
	return errs
}

func (s *PretrainJobSpec) validateParallelism(worldSize int) (errs *apis.FieldError) {
	p := s.Parallelism
	tp, pp := p.TensorModelParallelSize, p.PipelineModelParallelSize
	if tp < 1 {
		errs = errs.Also(apis.ErrInvalidValue(tp, "tensorModelParallelSize"))
	}
	if pp < 1 {
		errs = errs.Also(apis.ErrInvalidValue(pp, "pipelineModelParallelSize"))
	}
	if errs != nil {
		return errs
	}
	if worldSize%(tp*pp) != 0 {
		errs = errs.Also(apis.ErrGeneric(
			fmt.Sprintf("world size %d is not divisible by tensor (%d) x pipeline (%d) model parallel size", worldSize, tp, pp),
			"tensorModelParallelSize", "pipelineModelParallelSize"))
	}
	if s.Model.NumAttentionHeads > 0 && s.Model.NumAttentionHeads%tp != 0 {
		errs = errs.Also(apis.ErrGeneric(
			fmt.Sprintf("numAttentionHeads %d is not divisible by tensorModelParallelSize %d", s.Model.NumAttentionHeads, tp),
			"tensorModelParallelSize"))
	}
	if s.Model.NumLayers > 0 && s.Model.NumLayers%pp != 0 {
		errs = errs.Also(apis.ErrGeneric(
			fmt.Sprintf("numLayers %d is not divisible by pipelineModelParallelSize %d", s.Model.NumLayers, pp),
			"pipelineModelParallelSize"))
	}
	if vpp := p.VirtualPipelineModelParallelSize; vpp > 0 {
		if pp <= 2 {
			errs = errs.Also(apis.ErrGeneric("interleaved schedule requires pipelineModelParallelSize > 2",
				"virtualPipelineModelParallelSize"))
		} else if s.Model.NumLayers%(pp*vpp) != 0 {
			errs = errs.Also(apis.ErrGeneric(
				fmt.Sprintf("numLayers %d is not divisible by pipeline (%d) x virtual pipeline (%d) size", s.Model.NumLayers, pp, vpp),
				"virtualPipelineModelParallelSize"))
		}
	}
	if m, ok := plugin.PresetRegister.Get(string(s.Model.Preset)); ok && !m.SupportPipelineParallel() && pp > 1 {
		errs = errs.Also(apis.ErrGeneric(
			fmt.Sprintf("preset %s does not support pipeline parallelism", s.Model.Preset), "pipelineModelParallelSize"))
	}
	if p.SequenceParallel && tp == 1 {
		errs = errs.Also(apis.ErrGeneric("sequence parallelism requires tensorModelParallelSize > 1", "sequenceParallel"))
	}
	if p.DistributedBackend != "nccl" && p.DistributedBackend != "gloo" {
		errs = errs.Also(apis.ErrInvalidValue(p.DistributedBackend, "distributedBackend"))
	}
	if p.DistributedTimeoutMinutes < 1 {
		errs = errs.Also(apis.ErrInvalidValue(p.DistributedTimeoutMinutes, "distributedTimeoutMinutes"))
	}
	return errs
}

func (s *PretrainJobSpec) validateBatch(dp int) (errs *apis.FieldError) {
	t := s.Training
	if t.MicroBatchSize < 1 {
		return apis.ErrInvalidValue(t.MicroBatchSize, "microBatchSize")
	}
	if t.GlobalBatchSize < 1 {
		errs = errs.Also(apis.ErrMissingField("globalBatchSize"))
	} else if dp > 0 && t.GlobalBatchSize%(t.MicroBatchSize*dp) != 0 {
		errs = errs.Also(apis.ErrGeneric(
			fmt.Sprintf("globalBatchSize %d is not divisible by microBatchSize (%d) x data parallel size (%d)",
				t.GlobalBatchSize, t.MicroBatchSize, dp), "globalBatchSize"))
	}
	if len(t.RampupBatchSize) > 0 {
		if len(t.RampupBatchSize) != 3 {
			errs = errs.Also(apis.ErrInvalidValue(fmt.Sprint(t.RampupBatchSize), "rampupBatchSize",
				"expected <start> <increment> <ramp-up samples>"))
		} else if dp > 0 {
			unit := t.MicroBatchSize * dp
			start, incr := t.RampupBatchSize[0], t.RampupBatchSize[1]
			if start < 1 || start%unit != 0 || incr < 1 || incr%unit != 0 {
				errs = errs.Also(apis.ErrGeneric(
					fmt.Sprintf("rampup start and increment must be positive multiples of %d", unit), "rampupBatchSize"))
			}
			if t.GlobalBatchSize > 0 && start > t.GlobalBatchSize {
				errs = errs.Also(apis.ErrGeneric("rampup start exceeds globalBatchSize", "rampupBatchSize"))
			}
			if t.TrainIters > 0 {
				errs = errs.Also(apis.ErrGeneric("batch size rampup requires trainSamples", "rampupBatchSize", "trainIters"))
			}
		}
	}
	switch {
	case t.TrainIters > 0 && t.TrainSamples > 0:
		errs = errs.Also(apis.ErrMultipleOneOf("trainIters", "trainSamples"))
	case t.TrainIters <= 0 && t.TrainSamples <= 0:
		errs = errs.Also(apis.ErrMissingOneOf("trainIters", "trainSamples"))
	}
	switch t.Precision {
	case PrecisionBF16, PrecisionFP16, PrecisionFP32:
	default:
		errs = errs.Also(apis.ErrInvalidValue(t.Precision, "precision"))
	}
	return errs
}

func (s *PretrainJobSpec) validateSchedule() (errs *apis.FieldError) {
	o := s.Optimizer
	if o.LR <= 0 {
		errs = errs.Also(apis.ErrInvalidValue(o.LR, "lr"))
	}
	if o.MinLR < 0 || o.MinLR > o.LR {
		errs = errs.Also(apis.ErrOutOfBoundsValue(o.MinLR, 0, o.LR, "minLR"))
	}
	iterBased := o.LRWarmupIters > 0 || o.LRDecayIters > 0
	sampleBased := o.LRWarmupSamples > 0 || o.LRDecaySamples > 0
	if s.Training.TrainSamples > 0 && iterBased {
		errs = errs.Also(apis.ErrGeneric("iteration based lr schedule cannot be used with trainSamples", "lrWarmupIters", "lrDecayIters"))
	}
	if s.Training.TrainIters > 0 && sampleBased {
		errs = errs.Also(apis.ErrGeneric("sample based lr schedule cannot be used with trainIters", "lrWarmupSamples", "lrDecaySamples"))
	}
	if o.LRWarmupFraction != 0 {
		if o.LRWarmupFraction < 0 || o.LRWarmupFraction >= 1 {
			errs = errs.Also(apis.ErrOutOfBoundsValue(o.LRWarmupFraction, 0, 1, "lrWarmupFraction"))
		}
		if o.LRWarmupIters > 0 || o.LRWarmupSamples > 0 {
			errs = errs.Also(apis.ErrMultipleOneOf("lrWarmupFraction", "lrWarmupIters", "lrWarmupSamples"))
		}
	}
	switch o.LRDecayStyle {
	case "constant", "linear", "cosine", "inverse-square-root":
	default:
		errs = errs.Also(apis.ErrInvalidValue(o.LRDecayStyle, "lrDecayStyle"))
	}
	if o.WeightDecay != nil && *o.WeightDecay < 0 {
		errs = errs.Also(apis.ErrInvalidValue(*o.WeightDecay, "weightDecay"))
	}
	for field, beta := range map[string]float64{"adamBeta1": o.AdamBeta1, "adamBeta2": o.AdamBeta2} {
		if beta <= 0 || beta >= 1 {
			errs = errs.Also(apis.ErrOutOfBoundsValue(beta, 0, 1, field))
		}
	}
	return errs
}

func (d *DataSpec) validate() (errs *apis.FieldError) {
	if len(d.Paths) == 0 {
		errs = errs.Also(apis.ErrMissingField("paths"))
	}
	if len(d.Paths) > 1 {
		for i, p := range d.Paths {
			if p.Weight <= 0 {
				errs = errs.Also(apis.ErrGeneric("blended datasets need a positive weight", "weight").ViaIndex(i).ViaField("paths"))
			}
		}
	}
	for i, p := range d.Paths {
		if p.Prefix == "" {
			errs = errs.Also(apis.ErrMissingField("prefix").ViaIndex(i).ViaField("paths"))
		}
	}
	parts := strings.Split(d.Split, ",")
	if len(parts) != 3 {
		errs = errs.Also(apis.ErrInvalidValue(d.Split, "split", "expected three comma separated weights"))
	} else {
		for _, part := range parts {
			if _, err := strconv.ParseFloat(strings.TrimSpace(part), 64); err != nil {
				errs = errs.Also(apis.ErrInvalidValue(d.Split, "split"))
				break
			}
		}
	}
	switch d.TokenizerType {
	case TokenizerGPT2BPE:
		if d.VocabFile == "" {
			errs = errs.Also(apis.ErrMissingField("vocabFile"))
		}
		if d.MergeFile == "" {
			errs = errs.Also(apis.ErrMissingField("mergeFile"))
		}
	case TokenizerSentencePiece:
		if d.TokenizerModel == "" {
			errs = errs.Also(apis.ErrMissingField("tokenizerModel"))
		}
	}
	if d.NumWorkers != nil && *d.NumWorkers < 0 {
		errs = errs.Also(apis.ErrInvalidValue(*d.NumWorkers, "numWorkers"))
	}
	return errs
}

func (l *LoggingSpec) validate() (errs *apis.FieldError) {
	if l.StructuredLogsDir != "" && !l.StructuredLogs {
		errs = errs.Also(apis.ErrGeneric("structuredLogsDir requires structuredLogs", "structuredLogsDir"))
	}
	if (l.WandbEntity == "") != (l.WandbProject == "") {
		errs = errs.Also(apis.ErrGeneric("wandbEntity and wandbProject must be set together", "wandbEntity", "wandbProject"))
	}
	return errs
}

func (l *LauncherSpec) validate() (errs *apis.FieldError) {
	if l.Command == "" {
		errs = errs.Also(apis.ErrMissingField("command"))
	}
	if l.Program == "" {
		errs = errs.Also(apis.ErrMissingField("program"))
	}
	for _, name := range lo.Keys(l.Env) {
		if msgs := validation.IsEnvVarName(name); len(msgs) > 0 {
			errs = errs.Also(apis.ErrInvalidValue(name, "env", strings.Join(msgs, "; ")))
		}
	}
	if l.Container != nil && l.Container.Image == "" {
		errs = errs.Also(apis.ErrMissingField("container.image"))
	}
	return errs
}

func (r *RendezvousSpec) validate() (errs *apis.FieldError) {
	if r.MasterPort < 1 || r.MasterPort > 65535 {
		errs = errs.Also(apis.ErrOutOfBoundsValue(r.MasterPort, 1, 65535, "masterPort"))
	}
	if r.MaxRestarts != nil && *r.MaxRestarts < 0 {
		errs = errs.Also(apis.ErrInvalidValue(*r.MaxRestarts, "maxRestarts"))
	}
	return errs
}
