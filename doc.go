/*
Package rastervision adapts a region based object detector to a training
and inference harness that exchanges ground truth and predictions as
BoxLists.

The Adapter translates the harness's box ordering and field layout to the
detector's native contract, injects a synthetic background box into every
training target so the detector never sees an image with zero ground
truth boxes, aggregates the detector's loss components, and strips
background detections from inference output.

The backbone subpackage builds the feature pyramid extractor the detector
runs on, freezing early layers for transfer learning and discovering per
stage channel widths with a one shot forward pass.

See the boxlist, preprocess and onnx subpackages for the box container,
batch construction and an ONNX backed inference detector.
*/
package rastervision
