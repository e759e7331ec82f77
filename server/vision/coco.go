package vision

const (
	COCOPerson    = 0
	COCOBicycle   = 1
	COCOCar       = 2
	COCOBus       = 5
	COCOTruck     = 7
	COCOBottle    = 39
	COCOLaptop    = 63
	COCOCellPhone = 67
)

// COCO classes (80 class detection models)
var COCOClasses = []string{
	"person",
	"bicycle",
	"car",
	"motorcycle",
	"airplane",
	"bus",
	"train",
	"truck",
	"boat",
	"traffic light",
	"fire hydrant",
	"stop sign",
	"parking meter",
	"bench",
	"bird",
	"cat",
	"dog",
	"horse",
	"sheep",
	"cow",
	"elephant",
	"bear",
	"zebra",
	"giraffe",
	"backpack",
	"umbrella",
	"handbag",
	"tie",
	"suitcase",
	"frisbee",
	"skis",
	"snowboard",
	"sports ball",
	"kite",
	"baseball bat",
	"baseball glove",
	"skateboard",
	"surfboard",
	"tennis racket",
	"bottle",
	"wine glass",
	"cup",
	"fork",
	"knife",
	"spoon",
	"bowl",
	"banana",
	"apple",
	"sandwich",
	"orange",
	"broccoli",
	"carrot",
	"hot dog",
	"pizza",
	"donut",
	"cake",
	"chair",
	"couch",
	"potted plant",
	"bed",
	"dining table",
	"toilet",
	"tv",
	"laptop",
	"mouse",
	"remote",
	"keyboard",
	"cell phone",
	"microwave",
	"oven",
	"toaster",
	"sink",
	"refrigerator",
	"book",
	"clock",
	"vase",
	"scissors",
	"teddy bear",
	"hair drier",
	"toothbrush",
}

// DefaultIncidentClasses maps detection classes to incident types.
// Only classes present in this map can trigger an incident.
func DefaultIncidentClasses() map[int]string {
	return map[int]string{
		COCOPerson:    "person_detected",
		COCOCar:       "traffic_congestion",
		COCOBus:       "traffic_congestion",
		COCOTruck:     "traffic_congestion",
		COCOBottle:    "bottle_detected",
		COCOLaptop:    "laptop_detected",
		COCOCellPhone: "cell_phone_detected",
	}
}

// ClassName returns the human readable name of a COCO class
func ClassName(class int) string {
	if class >= 0 && class < len(COCOClasses) {
		return COCOClasses[class]
	}
	return "unknown"
}
