package e2e

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"npud/pkg/types"
)

func submitPayload(t *testing.T, modelPath string, priority string, timeout time.Duration) []byte {
	t.Helper()
	req := types.SubmitTaskRequest{
		Request: types.InferenceRequest{
			ModelPath: modelPath,
			Inputs: []types.Tensor{{
				Shape:    []int64{1, 4},
				DataType: types.Float32,
				Data:     []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
			}},
			Timeout: timeout,
		},
		Priority: priority,
	}
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func waitForState(t *testing.T, baseURL string, id types.TaskID, want types.TaskState) types.TaskStatusResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last types.TaskStatusResponse
	for time.Now().Before(deadline) {
		resp, body := httpGet(t, baseURL+"/tasks/"+string(id))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET /tasks/%s: %d %s", id, resp.StatusCode, body)
		}
		if err := json.Unmarshal(body, &last); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if last.Status.State == want {
			return last
		}
		if last.Status.State.Terminal() {
			t.Fatalf("task %s reached %s (reason %q), want %s", id, last.Status.State, last.Status.Reason, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s stuck in %s, want %s", id, last.Status.State, want)
	return last
}

func TestSubmitAndCompleteOverHTTP(t *testing.T) {
	dir := createTempModelsDir(t, "echo.onnx")
	srv, _ := newServer(t, dir, fastManagerConfig(), defaultFleet()...)

	resp, body := httpPostJSON(t, srv.URL+"/tasks", submitPayload(t, "echo.onnx", "high", 5*time.Second))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /tasks: %d %s", resp.StatusCode, body)
	}
	var submitted types.SubmitTaskResponse
	if err := json.Unmarshal(body, &submitted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if submitted.TaskID == "" {
		t.Fatal("empty task id")
	}

	status := waitForState(t, srv.URL, submitted.TaskID, types.TaskCompleted)
	out := status.Status.Output
	if out == nil || out.DeviceID != "npu-0" {
		t.Fatalf("output = %+v", out)
	}
	if len(out.Outputs) != 1 || len(out.Outputs[0].Data) != 16 {
		t.Fatalf("outputs = %+v", out.Outputs)
	}
}

func TestUnknownModelFailsTask(t *testing.T) {
	dir := createTempModelsDir(t, "echo.onnx")
	cfg := fastManagerConfig()
	cfg.MaxRetries = 2
	srv, _ := newServer(t, dir, cfg, defaultFleet()...)

	resp, body := httpPostJSON(t, srv.URL+"/tasks", submitPayload(t, "missing.onnx", "normal", 5*time.Second))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /tasks: %d %s", resp.StatusCode, body)
	}
	var submitted types.SubmitTaskResponse
	if err := json.Unmarshal(body, &submitted); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// The task dispatches, the driver rejects the load, the task fails.
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, body := httpGet(t, srv.URL+"/tasks/"+string(submitted.TaskID))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET /tasks: %d", resp.StatusCode)
		}
		var st types.TaskStatusResponse
		if err := json.Unmarshal(body, &st); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if st.Status.State == types.TaskFailed {
			if st.Status.Reason == "" {
				t.Fatal("failed task has no reason")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task stuck in %s", st.Status.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCancelQueuedTaskOverHTTP(t *testing.T) {
	dir := createTempModelsDir(t, "echo.onnx")
	// No devices: submissions queue until cancelled.
	srv, _ := newServer(t, dir, fastManagerConfig())

	_, body := httpPostJSON(t, srv.URL+"/tasks", submitPayload(t, "echo.onnx", "normal", time.Minute))
	var submitted types.SubmitTaskResponse
	if err := json.Unmarshal(body, &submitted); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if resp := httpDelete(t, srv.URL+"/tasks/"+string(submitted.TaskID)); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE /tasks: %d", resp.StatusCode)
	}
	resp, statusBody := httpGet(t, srv.URL+"/tasks/"+string(submitted.TaskID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /tasks after cancel: %d", resp.StatusCode)
	}
	var st types.TaskStatusResponse
	if err := json.Unmarshal(statusBody, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Status.State != types.TaskCancelled {
		t.Fatalf("state = %s, want cancelled", st.Status.State)
	}

	// A second cancel conflicts with the terminal state.
	if resp := httpDelete(t, srv.URL+"/tasks/"+string(submitted.TaskID)); resp.StatusCode != http.StatusConflict {
		t.Fatalf("second DELETE: %d", resp.StatusCode)
	}
}

func TestDevicesAndStatsOverHTTP(t *testing.T) {
	dir := createTempModelsDir(t, "echo.onnx", "vision.tflite")
	srv, _ := newServer(t, dir, fastManagerConfig(), defaultFleet()...)

	resp, body := httpGet(t, srv.URL+"/devices")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /devices: %d", resp.StatusCode)
	}
	var devices struct {
		Devices []types.DeviceSnapshot `json:"devices"`
	}
	if err := json.Unmarshal(body, &devices); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(devices.Devices) != 1 || devices.Devices[0].Info.ID != "npu-0" {
		t.Fatalf("devices = %+v", devices.Devices)
	}

	resp, body = httpGet(t, srv.URL+"/models")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /models: %d", resp.StatusCode)
	}
	var models types.ModelsResponse
	if err := json.Unmarshal(body, &models); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(models.Models) != 2 {
		t.Fatalf("models = %+v", models.Models)
	}

	resp, body = httpGet(t, srv.URL+"/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /stats: %d", resp.StatusCode)
	}
	var stats types.SystemStats
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalDevices != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	if resp, _ := httpGet(t, srv.URL+"/readyz"); resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /readyz: %d", resp.StatusCode)
	}
	if resp, _ := httpGet(t, srv.URL+"/healthz"); resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /healthz: %d", resp.StatusCode)
	}
}

func TestPriorityPreemptsQueueOrderOverHTTP(t *testing.T) {
	dir := createTempModelsDir(t, "echo.onnx")
	// A serialized device forces one task at a time so queue order shows up
	// in completion order.
	srv, _ := newServer(t, dir, fastManagerConfig(), serializedDevice())

	// Occupy the device with a long-running task first.
	_, body := httpPostJSON(t, srv.URL+"/tasks", submitPayload(t, "echo.onnx", "normal", 10*time.Second))
	var first types.SubmitTaskResponse
	if err := json.Unmarshal(body, &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	waitForState(t, srv.URL, first.TaskID, types.TaskRunning)

	// Queue a background task, then a critical one.
	_, body = httpPostJSON(t, srv.URL+"/tasks", submitPayload(t, "echo.onnx", "background", 10*time.Second))
	var background types.SubmitTaskResponse
	if err := json.Unmarshal(body, &background); err != nil {
		t.Fatalf("decode: %v", err)
	}
	_, body = httpPostJSON(t, srv.URL+"/tasks", submitPayload(t, "echo.onnx", "critical", 10*time.Second))
	var critical types.SubmitTaskResponse
	if err := json.Unmarshal(body, &critical); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// The critical task finishes even though it was submitted last.
	waitForState(t, srv.URL, critical.TaskID, types.TaskCompleted)
	_, body = httpGet(t, srv.URL+"/tasks/"+string(background.TaskID))
	var bg types.TaskStatusResponse
	if err := json.Unmarshal(body, &bg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bg.Status.State == types.TaskCompleted {
		t.Fatal("background task completed before the critical task")
	}
	waitForState(t, srv.URL, background.TaskID, types.TaskCompleted)
}
