package services

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const syllabusReply = "```json\n" + `{
  "title": "Intro to Biology",
  "instructor": "Dr. Smith",
  "credits": "4",
  "schedule": [
    {"date": "2026-03-02", "topic": "Cells", "chapter": "1"},
    {"date": "2026-03-16", "topic": "Genetics", "chapter": "3"},
    {"date": "2026-03-09", "topic": "Membranes", "chapter": "2"},
    {"date": "TBD", "topic": "Review", "chapter": ""},
    {"date": "2026-03-23", "topic": "Evolution", "chapter": "4"}
  ],
  "assignments": [
    {"title": "Midterm", "dueDate": "2026-03-12", "type": "Exam"},
    {"title": "Lab report", "dueDate": "March 20", "type": "Homework"},
    {"title": "Pop quiz", "dueDate": "2026-03-18", "type": "quiz"},
    {"title": "Final", "dueDate": "2026-03-25", "type": "exam"}
  ],
  "learning_goals": ["Understand cell structure", "Explain inheritance"],
  "textbook": "Campbell Biology"
}` + "\n```"

func TestOrderLectures_NumbersInSyllabusOrderThenSortsByDate(t *testing.T) {
	got := orderLectures([]SyllabusLecture{
		{Date: "2026-03-09", Topic: "B"},
		{Date: "later", Topic: "X"},
		{Date: "2026-03-02", Topic: "A"},
	})
	require.Len(t, got, 3)
	assert.Equal(t, "A", got[0].Topic)
	assert.Equal(t, 3, got[0].number)
	assert.Equal(t, "B", got[1].Topic)
	assert.Equal(t, 1, got[1].number)
	assert.Equal(t, "X", got[2].Topic)
	assert.False(t, got[2].dated)
}

func TestCoverExams(t *testing.T) {
	lectures := orderLectures([]SyllabusLecture{
		{Date: "2026-03-02", Topic: "Cells"},
		{Date: "2026-03-09", Topic: "Membranes"},
		{Date: "2026-03-16", Topic: "Genetics"},
		{Date: "2026-03-23", Topic: ""},
	})
	cov := coverExams([]SyllabusAssignment{
		{Title: "Final", DueDate: "2026-03-30", Type: "EXAM"},
		{Title: "Midterm", DueDate: "2026-03-09", Type: "exam"},
		{Title: "Undated", DueDate: "soon", Type: "exam"},
		{Title: "Essay", DueDate: "2026-03-05", Type: "homework"},
	}, lectures)

	assert.Equal(t, "Lectures 1–2", cov["Midterm"].lectureRange)
	assert.Equal(t, []string{"Cells", "Membranes"}, cov["Midterm"].topics)
	assert.Equal(t, "Lectures 3–4", cov["Final"].lectureRange)
	assert.Equal(t, []string{"Genetics"}, cov["Final"].topics)
	assert.NotContains(t, cov, "Undated")
	assert.NotContains(t, cov, "Essay")
}

func TestAssignmentPriority(t *testing.T) {
	assert.Equal(t, "High", assignmentPriority("Exam"))
	assert.Equal(t, "High", assignmentPriority(" quiz "))
	assert.Equal(t, "Normal", assignmentPriority("Homework"))
}

func TestFromSyllabus_StoresClassScheduleAssignmentsAndExamDecks(t *testing.T) {
	pinClock(t, fixedNow)
	conn := newTestDB(t)
	chat := replying(syllabusReply)
	svc := NewClassService(conn, chat, "gpt-4o")
	ctx := context.Background()
	path := writeTemp(t, t.TempDir(), "upload", "BIO 101 syllabus\n\nWeekly lectures on cells and genetics.")

	syl, err := svc.FromSyllabus(ctx, "u1", path, "syllabus.txt")
	require.NoError(t, err)
	assert.NotZero(t, syl.ClassID)
	assert.Equal(t, Credits(4), syl.Credits)
	assert.Equal(t, "gpt-4o", chat.requests[0].Model)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "upload should be removed")

	class, err := svc.GetClass(ctx, syl.ClassID)
	require.NoError(t, err)
	assert.Equal(t, "Understand cell structure", class.Focus)
	assert.Equal(t, "UP TO DATE", class.Status)
	assert.Equal(t, 4, class.Credits)

	rows, err := conn.Query(`SELECT lecture_number, topic FROM class_schedule WHERE class_id = ? ORDER BY id`, syl.ClassID)
	require.NoError(t, err)
	var order []string
	var numbers []int
	for rows.Next() {
		var n int
		var topic string
		require.NoError(t, rows.Scan(&n, &topic))
		order = append(order, topic)
		numbers = append(numbers, n)
	}
	require.NoError(t, rows.Close())
	assert.Equal(t, []string{"Cells", "Membranes", "Genetics", "Evolution", "Review"}, order)
	assert.Equal(t, []int{1, 3, 2, 5, 4}, numbers)

	var due sql.NullString
	var priority, lectureRange string
	require.NoError(t, conn.QueryRow(`SELECT due_date, priority FROM assignments WHERE title = 'Lab report'`).Scan(&due, &priority))
	assert.False(t, due.Valid)
	assert.Equal(t, "Normal", priority)
	require.NoError(t, conn.QueryRow(`SELECT priority, lecture_range FROM assignments WHERE title = 'Midterm'`).Scan(&priority, &lectureRange))
	assert.Equal(t, "High", priority)
	assert.Equal(t, "Lectures 1–3", lectureRange)

	decks, err := NewDeckService(conn).ListDecks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, decks, 2)
	titles := []string{decks[0].Title, decks[1].Title}
	assert.ElementsMatch(t, []string{"Intro to Biology - Midterm Deck", "Intro to Biology - Final Deck"}, titles)
	for _, d := range decks {
		if d.Title == "Intro to Biology - Final Deck" {
			assert.Equal(t, "Lectures 2–5", d.LectureRange)
			assert.Equal(t, []string{"Genetics", "Evolution"}, d.CoveredTopics)
		}
	}
}

func TestFromSyllabus_AcceptsObjectInsideProse(t *testing.T) {
	pinClock(t, fixedNow)
	conn := newTestDB(t)
	svc := NewClassService(conn, replying("Here is the extracted syllabus:\n"+syllabusReply+"\nLet me know if anything is missing."), "")
	path := writeTemp(t, t.TempDir(), "s.txt", "BIO 101 syllabus")

	syl, err := svc.FromSyllabus(context.Background(), "u1", path, "s.txt")
	require.NoError(t, err)
	assert.Equal(t, "Intro to Biology", syl.Title)
	assert.NotZero(t, syl.ClassID)
}

func TestFromSyllabus_InvalidJSONCarriesRawOutput(t *testing.T) {
	conn := newTestDB(t)
	svc := NewClassService(conn, replying("Sorry, here is the syllabus summary"), "")
	path := writeTemp(t, t.TempDir(), "s.txt", "syllabus")

	_, err := svc.FromSyllabus(context.Background(), "u1", path, "s.txt")
	require.ErrorIs(t, err, ErrInvalidSyllabus)
	assert.Contains(t, err.Error(), "Sorry, here is the syllabus summary")

	classes, err := svc.ListClasses(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, classes)
}

func TestDetectSubject(t *testing.T) {
	conn := newTestDB(t)
	dir := t.TempDir()
	path := writeTemp(t, dir, "lecture.txt", "one\fphotosynthesis\fthree\fFOURTH PAGE")

	chat := replying("Biology")
	svc := NewClassService(conn, chat, "")
	assert.Equal(t, "Biology", svc.DetectSubject(context.Background(), path))
	assert.NotContains(t, chat.prompt(0), "FOURTH PAGE")
	assert.Contains(t, chat.prompt(0), "- Organic Chemistry")

	svc = NewClassService(conn, replying("Astrology"), "")
	assert.Equal(t, "General", svc.DetectSubject(context.Background(), path))

	svc = NewClassService(conn, nil, "")
	assert.Equal(t, "General", svc.DetectSubject(context.Background(), path))
}
