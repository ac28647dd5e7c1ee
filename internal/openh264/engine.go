//go:build cgo && !noopenh264

package openh264

/*
#cgo pkg-config: openh264

#include <stdlib.h>
#include <string.h>
#include <wels/codec_api.h>

_Static_assert(RC_OFF_MODE == -1, "RC_OFF_MODE");
_Static_assert(AUTO_REF_PIC_COUNT == -1, "AUTO_REF_PIC_COUNT");
_Static_assert(SM_SIZELIMITED_SLICE == 3, "SM_SIZELIMITED_SLICE");
_Static_assert(CAMERA_VIDEO_REAL_TIME == 0, "CAMERA_VIDEO_REAL_TIME");
_Static_assert(WELS_LOG_INFO == 8, "WELS_LOG_INFO");

typedef struct {
    int usage_type, width, height;
    float max_frame_rate;
    int target_bitrate, max_bitrate, rc_mode, intra_period;
    int num_ref_frame, sps_pps_strategy, complexity;
    int prefix_nal, ssei, padding, entropy_coding, frame_skip;
    int max_qp, min_qp;
    int long_term_ref, ltr_mark_period, threads;
    int loop_filter_disable_idc;
    int denoise, background_detection, adaptive_quant, frame_cropping, scene_change_detect;
    int spatial_layers, temporal_layers, slice_mode, slice_num;
    int trace_level;
} enc_params;

static ISVCEncoder* enc_create(void) {
    ISVCEncoder* enc = NULL;
    if (WelsCreateSVCEncoder(&enc) != 0) {
        return NULL;
    }
    return enc;
}

static int enc_configure(ISVCEncoder* enc, const enc_params* in) {
    int trace = in->trace_level;
    (*enc)->SetOption(enc, ENCODER_OPTION_TRACE_LEVEL, &trace);

    SEncParamExt p;
    memset(&p, 0, sizeof(p));
    (*enc)->GetDefaultParams(enc, &p);

    p.iUsageType = (EUsageType)in->usage_type;
    p.iPicWidth = in->width;
    p.iPicHeight = in->height;
    p.fMaxFrameRate = in->max_frame_rate;
    p.iTargetBitrate = in->target_bitrate;
    p.iMaxBitrate = in->max_bitrate;
    p.iRCMode = (RC_MODES)in->rc_mode;
    p.uiIntraPeriod = (unsigned int)in->intra_period;
    p.iNumRefFrame = in->num_ref_frame;
    p.eSpsPpsIdStrategy = (EParameterSetStrategy)in->sps_pps_strategy;
    p.iComplexityMode = (ECOMPLEXITY_MODE)in->complexity;
    p.bPrefixNalAddingCtrl = in->prefix_nal != 0;
    p.bEnableSSEI = in->ssei != 0;
    p.iPaddingFlag = in->padding;
    p.iEntropyCodingModeFlag = in->entropy_coding;
    p.bEnableFrameSkip = in->frame_skip != 0;
    p.iMaxQp = in->max_qp;
    p.iMinQp = in->min_qp;
    p.bEnableLongTermReference = in->long_term_ref != 0;
    p.iLtrMarkPeriod = in->ltr_mark_period;
    p.iMultipleThreadIdc = (unsigned short)in->threads;
    p.iLoopFilterDisableIdc = in->loop_filter_disable_idc;
    p.bEnableDenoise = in->denoise != 0;
    p.bEnableBackgroundDetection = in->background_detection != 0;
    p.bEnableAdaptiveQuant = in->adaptive_quant != 0;
    p.bEnableFrameCroppingFlag = in->frame_cropping != 0;
    p.bEnableSceneChangeDetect = in->scene_change_detect != 0;
    p.iSpatialLayerNum = in->spatial_layers;
    p.iTemporalLayerNum = in->temporal_layers;

    SSpatialLayerConfig* layer = &p.sSpatialLayers[0];
    layer->iVideoWidth = p.iPicWidth;
    layer->iVideoHeight = p.iPicHeight;
    layer->fFrameRate = p.fMaxFrameRate;
    layer->iSpatialBitrate = p.iTargetBitrate;
    layer->iMaxSpatialBitrate = p.iMaxBitrate;
    layer->sSliceArgument.uiSliceMode = (SliceModeEnum)in->slice_mode;
    layer->sSliceArgument.uiSliceNum = (unsigned int)in->slice_num;

    return (*enc)->InitializeExt(enc, &p);
}

// pixels holds I420 planes back to back with strides w, w/2, w/2.
static int enc_encode(ISVCEncoder* enc, unsigned char* pixels, int w, int h, SFrameBSInfo* info) {
    SSourcePicture pic;
    memset(&pic, 0, sizeof(pic));
    memset(info, 0, sizeof(*info));

    pic.iColorFormat = videoFormatI420;
    pic.iPicWidth = w;
    pic.iPicHeight = h;
    pic.iStride[0] = w;
    pic.iStride[1] = w / 2;
    pic.iStride[2] = w / 2;
    pic.pData[0] = pixels;
    pic.pData[1] = pixels + w * h;
    pic.pData[2] = pixels + w * h + ((w * h) >> 2);

    return (*enc)->EncodeFrame(enc, &pic, info);
}

static int enc_skipped(const SFrameBSInfo* info) {
    return info->eFrameType == videoFrameTypeSkip;
}

static int enc_layer_count(const SFrameBSInfo* info) {
    return info->iLayerNum;
}

static void enc_layer(SFrameBSInfo* info, int i, int* nal_count, int** nal_lengths, unsigned char** bs) {
    SLayerBSInfo* layer = &info->sLayerInfo[i];
    *nal_count = layer->iNalCount;
    *nal_lengths = layer->pNalLengthInByte;
    *bs = layer->pBsBuf;
}

static void enc_destroy(ISVCEncoder* enc) {
    (*enc)->Uninitialize(enc);
    WelsDestroySVCEncoder(enc);
}
*/
import "C"
import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/encoder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/pixfmt"
)

// Available reports whether this build links libopenh264
const Available = true

// Engine is one libopenh264 encoder instance. It is not safe for
// concurrent use; encoder.Session serializes access.
type Engine struct {
	enc     *C.ISVCEncoder
	info    *C.SFrameBSInfo
	verbose bool

	layers  []encoder.Layer
	nalLens []int
}

// New creates an encoder instance. verbose raises the library trace level
// to INFO.
func New(verbose bool) (*Engine, error) {
	enc := C.enc_create()
	if enc == nil {
		return nil, errors.New("openh264: WelsCreateSVCEncoder failed")
	}
	info := (*C.SFrameBSInfo)(C.calloc(1, C.sizeof_SFrameBSInfo))
	if info == nil {
		C.enc_destroy(enc)
		return nil, errors.New("openh264: out of memory")
	}
	return &Engine{enc: enc, info: info, verbose: verbose}, nil
}

// Configure initializes the encoder with cfg
func (e *Engine) Configure(cfg *encoder.Config) error {
	p := paramsFor(cfg, e.verbose)
	cp := C.enc_params{
		usage_type:              C.int(p.UsageType),
		width:                   C.int(p.Width),
		height:                  C.int(p.Height),
		max_frame_rate:          C.float(p.MaxFrameRate),
		target_bitrate:          C.int(p.TargetBitrate),
		max_bitrate:             C.int(p.MaxBitrate),
		rc_mode:                 C.int(p.RCMode),
		intra_period:            C.int(p.IntraPeriod),
		num_ref_frame:           C.int(p.NumRefFrame),
		sps_pps_strategy:        C.int(p.SPSPPSStrategy),
		complexity:              C.int(p.Complexity),
		prefix_nal:              C.int(boolInt(p.PrefixNAL)),
		ssei:                    C.int(boolInt(p.SSEI)),
		padding:                 C.int(p.Padding),
		entropy_coding:          C.int(p.EntropyCoding),
		frame_skip:              C.int(boolInt(p.FrameSkip)),
		max_qp:                  C.int(p.MaxQP),
		min_qp:                  C.int(p.MinQP),
		long_term_ref:           C.int(boolInt(p.LongTermRef)),
		ltr_mark_period:         C.int(p.LTRMarkPeriod),
		threads:                 C.int(p.Threads),
		loop_filter_disable_idc: C.int(p.LoopFilterDisableIdc),
		denoise:                 C.int(boolInt(p.Denoise)),
		background_detection:    C.int(boolInt(p.BackgroundDetection)),
		adaptive_quant:          C.int(boolInt(p.AdaptiveQuant)),
		frame_cropping:          C.int(boolInt(p.FrameCropping)),
		scene_change_detect:     C.int(boolInt(p.SceneChangeDetect)),
		spatial_layers:          C.int(p.SpatialLayers),
		temporal_layers:         C.int(p.TemporalLayers),
		slice_mode:              C.int(p.SliceMode),
		slice_num:               C.int(p.SliceNum),
		trace_level:             C.int(p.TraceLevel),
	}
	if rc := C.enc_configure(e.enc, &cp); rc != 0 {
		return fmt.Errorf("openh264: InitializeExt failed with code %d", int(rc))
	}
	logger.Debug("OpenH264", "Initialized %dx%d rc=%d complexity=%d slices=%d",
		p.Width, p.Height, p.RCMode, p.Complexity, p.SliceNum)
	return nil
}

// Encode encodes one I420 picture. The returned layers alias encoder
// memory and are only valid until the next call.
func (e *Engine) Encode(pic *pixfmt.Planar) (*encoder.EncodedFrame, error) {
	if len(pic.Data) < pixfmt.PlanarSize(pic.Width, pic.Height) {
		return nil, fmt.Errorf("openh264: picture buffer too small: %d bytes", len(pic.Data))
	}

	rc := C.enc_encode(e.enc, (*C.uchar)(unsafe.Pointer(&pic.Data[0])),
		C.int(pic.Width), C.int(pic.Height), e.info)
	if rc != 0 {
		return nil, &encoder.EncodeError{Code: int(rc)}
	}
	if C.enc_skipped(e.info) != 0 {
		return &encoder.EncodedFrame{Skipped: true}, nil
	}

	count := int(C.enc_layer_count(e.info))
	e.layers = e.layers[:0]
	e.nalLens = e.nalLens[:0]
	for i := 0; i < count; i++ {
		var nalCount C.int
		var lengths *C.int
		var bs *C.uchar
		C.enc_layer(e.info, C.int(i), &nalCount, &lengths, &bs)

		start := len(e.nalLens)
		size := 0
		if nalCount > 0 {
			for _, l := range unsafe.Slice(lengths, int(nalCount)) {
				e.nalLens = append(e.nalLens, int(l))
				size += int(l)
			}
		}

		layer := encoder.Layer{NALLengths: e.nalLens[start:len(e.nalLens):len(e.nalLens)]}
		if size > 0 {
			layer.Bitstream = unsafe.Slice((*byte)(unsafe.Pointer(bs)), size)
		}
		e.layers = append(e.layers, layer)
	}
	return &encoder.EncodedFrame{Layers: e.layers}, nil
}

// Close releases the encoder
func (e *Engine) Close() error {
	if e.enc != nil {
		C.enc_destroy(e.enc)
		e.enc = nil
	}
	if e.info != nil {
		C.free(unsafe.Pointer(e.info))
		e.info = nil
	}
	return nil
}
