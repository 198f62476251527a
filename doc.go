/*
go-obbtile runs oriented bounding box object detection over aerial and
satellite imagery that is larger than the input resolution of the detection
model.

An image is partitioned into a grid of tiles, all tiles are submitted to the
Detector as a single batch, and each rotated box found is translated back into
the coordinate space of the full image.  Detections are filtered against an
allow list of class names, assigned a display color per class and drawn onto
the image as rotated polygons with a class label.

Detector backends are provided for in process ONNX Runtime inference in the
detector/onnx package and for a remote HTTP inference service in the
detector/remote package.

See example code and usage in the example subdirectory.
*/
package obbtile
