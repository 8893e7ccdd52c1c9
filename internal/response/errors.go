package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrUnknownAction  ErrCode = "UNKNOWN_ACTION"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrSessionNotFound     ErrCode = "SESSION_NOT_FOUND"
	ErrSessionActive       ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrInvalidPhase        ErrCode = "INVALID_SESSION_PHASE"
	ErrNoResumeOffer       ErrCode = "NO_RESUME_OFFER"
	ErrConfirmationPending ErrCode = "CONFIRMATION_PENDING"
	ErrNotConfirming       ErrCode = "NOT_CONFIRMING"
	ErrSubmissionInFlight  ErrCode = "SUBMISSION_IN_FLIGHT"

	// ─── Answers ───────────────────────────────────────────────────────
	ErrOptionOutOfRange    ErrCode = "OPTION_OUT_OF_RANGE"
	ErrIndexOutOfRange     ErrCode = "INDEX_OUT_OF_RANGE"
	ErrEliminationDisabled ErrCode = "ELIMINATION_DISABLED"

	// ─── Exam backend ──────────────────────────────────────────────────
	ErrExamNotStarted ErrCode = "EXAM_NOT_STARTED"
	ErrFetchFailed    ErrCode = "QUESTION_FETCH_FAILED"
	ErrSubmitFailed   ErrCode = "SUBMIT_FAILED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrUnknownAction:
		return "Aksi tidak dikenal."

	// ─── Session lifecycle ─────────────────────────────────────────────
	case ErrSessionNotFound:
		return "Tidak ada sesi ujian yang terbuka untuk ujian ini."
	case ErrSessionActive:
		return "Sesi ujian ini sudah berjalan."
	case ErrInvalidPhase:
		return "Tindakan ini tidak tersedia pada tahap sesi saat ini."
	case ErrNoResumeOffer:
		return "Tidak ada sesi tersimpan yang menunggu keputusan."
	case ErrConfirmationPending:
		return "Selesaikan atau batalkan konfirmasi pengumpulan terlebih dahulu."
	case ErrNotConfirming:
		return "Tidak ada pengumpulan yang menunggu konfirmasi."
	case ErrSubmissionInFlight:
		return "Jawaban sedang dikumpulkan."

	// ─── Answers ───────────────────────────────────────────────────────
	case ErrOptionOutOfRange:
		return "Pilihan jawaban tidak valid."
	case ErrIndexOutOfRange:
		return "Nomor soal tidak valid."
	case ErrEliminationDisabled:
		return "Coret pilihan tidak tersedia untuk ujian ini."

	// ─── Exam backend ──────────────────────────────────────────────────
	case ErrExamNotStarted:
		return "Ujian belum dimulai."
	case ErrFetchFailed:
		return "Gagal memuat soal. Silakan coba lagi."
	case ErrSubmitFailed:
		return "Gagal mengumpulkan jawaban. Silakan coba lagi."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
