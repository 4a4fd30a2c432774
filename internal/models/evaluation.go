package models

// The seven rubric dimensions. Maxima sum to 100.
const (
	DimTeachingExpertise = "teaching_expertise"
	DimTeachingMethod    = "teaching_method"
	DimCommunication     = "communication"
	DimTeachingAttitude  = "teaching_attitude"
	DimStudentEngagement = "student_engagement"
	DimTimeManagement    = "time_management"
	DimCreativity        = "creativity"
)

// DimensionOrder fixes the rubric ordering for output and iteration.
var DimensionOrder = []string{
	DimTeachingExpertise,
	DimTeachingMethod,
	DimCommunication,
	DimTeachingAttitude,
	DimStudentEngagement,
	DimTimeManagement,
	DimCreativity,
}

// DimensionName maps a dimension to its Korean display name.
var DimensionName = map[string]string{
	DimTeachingExpertise: "수업 전문성",
	DimTeachingMethod:    "교수학습 방법",
	DimCommunication:     "판서 및 언어",
	DimTeachingAttitude:  "수업 태도",
	DimStudentEngagement: "학생 참여",
	DimTimeManagement:    "시간 배분",
	DimCreativity:        "창의성",
}

// DimensionMax is the fixed point schedule per dimension.
var DimensionMax = map[string]int{
	DimTeachingExpertise: 20,
	DimTeachingMethod:    20,
	DimCommunication:     15,
	DimTeachingAttitude:  15,
	DimStudentEngagement: 15,
	DimTimeManagement:    10,
	DimCreativity:        5,
}

type DimensionScore struct {
	Score    int    `json:"score"`
	MaxScore int    `json:"max_score"`
	Feedback string `json:"feedback"`
}

// Evaluation is the complete scored result for one job: exactly seven
// dimension scores, a derived total, and a letter grade.
type Evaluation struct {
	TotalScore int                       `json:"total_score"`
	Grade      string                    `json:"grade"`
	Dimensions map[string]DimensionScore `json:"dimensions"`
}
